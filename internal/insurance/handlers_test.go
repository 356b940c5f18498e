package insurance_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-insurance/internal/insurance"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	h := &insurance.Handler{Svc: newService(t, newFakeCatalog(), nil)}
	r := chi.NewRouter()
	r.Route("/api/insurance", h.Routes)
	return r
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestProductHandler(t *testing.T) {
	router := newRouter(t)

	rr := post(router, "/api/insurance/product", `{"productId":836194}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"productId":836194,"insuranceValue":1500}`, rr.Body.String())

	rr = post(router, "/api/insurance/product", `{"productId":-7}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_PRODUCT")
	require.Contains(t, rr.Body.String(), "-7")

	rr = post(router, "/api/insurance/product", `{"productId":4242}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "requested product 4242 can not be found in system")

	rr = post(router, "/api/insurance/product", `{"productId":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCartHandler(t *testing.T) {
	router := newRouter(t)

	rr := post(router, "/api/insurance/cart", `[{"productId":836194},{"productId":832845}]`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"totalInsurance":1500}`, rr.Body.String())

	for _, body := range []string{`[]`, `null`, `{}`} {
		rr = post(router, "/api/insurance/cart", body)
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		require.Contains(t, rr.Body.String(), "EMPTY_CART", body)
	}

	rr = post(router, "/api/insurance/cart", `[{"productId":828519},{"productId":4242}]`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "CART_NOT_ELIGIBLE")
}
