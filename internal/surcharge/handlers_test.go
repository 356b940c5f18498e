package surcharge_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/resilience"
	"github.com/noah-isme/backend-insurance/internal/surcharge"
)

func newRouter(t *testing.T, store surcharge.Store) http.Handler {
	t.Helper()
	h := &surcharge.Handler{Svc: newService(t, store)}
	r := chi.NewRouter()
	r.Route("/api/surcharge", func(sr chi.Router) { h.Routes(sr) })
	return r
}

func TestUploadHandler(t *testing.T) {
	store := newMemStore()
	router := newRouter(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/surcharge/upload",
		strings.NewReader(`[{"productTypeId":21,"surcharge":10.5},{"productTypeId":32,"surcharge":"4"}]`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "surcharge rates uploaded successfully")
	require.Len(t, store.rows, 2)
	require.True(t, store.rows[21].Equal(decimal.RequireFromString("10.5")))
}

func TestUploadHandlerRejectsInvalidPayloads(t *testing.T) {
	store := newMemStore()
	router := newRouter(t, store)

	for _, body := range []string{`[]`, `null`, `{"productTypeId":1}`, `[{"productTypeId":-4,"surcharge":1}]`, `[{"productTypeId":4,"surcharge":-1}]`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/surcharge/upload", strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		require.Contains(t, rr.Body.String(), "INVALID_SURCHARGE", body)
	}
	require.Empty(t, store.batches)
}

func TestGetHandler(t *testing.T) {
	store := newMemStore()
	store.rows[21] = decimal.RequireFromString("12.5")
	router := newRouter(t, store)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/surcharge/21", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"productTypeId":21,"surcharge":12.5}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/surcharge/77", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"productTypeId":77,"surcharge":0}`, rr.Body.String())

	for _, id := range []string{"0", "-3", "abc"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/surcharge/"+id, nil))
		require.Equal(t, http.StatusBadRequest, rr.Code, id)
	}
}

func TestGetHandlerStoreFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("timeout")
	router := newRouter(t, store)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/surcharge/21", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRemoteClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/surcharge/21":
			fmt.Fprint(w, `{"productTypeId":21,"surcharge":7.25}`)
		case "/api/surcharge/22":
			w.WriteHeader(http.StatusBadRequest)
		case "/api/surcharge/23":
			fmt.Fprint(w, `{"surcharge":`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := surcharge.NewRemoteClient(srv.URL+"/", resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := client.SurchargeFor(ctx, 21)
	require.NoError(t, err)
	require.Equal(t, "7.25", got.String())

	got, err = client.SurchargeFor(ctx, 99)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	_, err = client.SurchargeFor(ctx, 22)
	require.ErrorIs(t, err, common.ErrUpstreamUnavailable)

	_, err = client.SurchargeFor(ctx, 23)
	require.ErrorIs(t, err, common.ErrUpstreamUnavailable)

	_, err = client.SurchargeFor(ctx, 0)
	require.ErrorIs(t, err, surcharge.ErrInvalidProductType)

	_, err = surcharge.NewRemoteClient("", resilience.HTTPClient{})
	require.Error(t, err)
}
