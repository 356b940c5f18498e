package surcharge

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/common"
)

// Handler exposes surcharge rate endpoints.
type Handler struct {
	Svc *Service
}

type rateResponse struct {
	ProductTypeID int             `json:"productTypeId"`
	Surcharge     decimal.Decimal `json:"surcharge"`
}

// Routes registers the surcharge endpoints. upload wraps the upload handler, e.g.
// with idempotency middleware.
func (h *Handler) Routes(r chi.Router, upload ...func(http.Handler) http.Handler) {
	r.With(upload...).Post("/upload", h.Upload)
	r.Get("/{productTypeId}", h.Get)
}

// Upload stores a batch of surcharge rates.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var rates []Rate
	if err := common.DecodeJSON(r, &rates); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_SURCHARGE", "invalid surcharge data", nil)
		return
	}
	if err := h.Svc.UploadSurchargeRates(r.Context(), rates); err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"message": "surcharge rates uploaded successfully",
		"count":   len(rates),
	})
}

// Get returns the surcharge for a product type, zero when none is configured.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "productTypeId"))
	if err != nil || id <= 0 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PRODUCT_TYPE", "product type id must be a positive integer", nil)
		return
	}
	rate, err := h.Svc.GetSurchargeForProductType(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, rateResponse{ProductTypeID: id, Surcharge: rate})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrInvalidRate):
		common.JSONError(w, http.StatusBadRequest, "INVALID_SURCHARGE", "invalid surcharge data", map[string]any{"reason": err.Error()})
	case errors.Is(err, ErrInvalidProductType):
		common.JSONError(w, http.StatusBadRequest, "INVALID_PRODUCT_TYPE", "product type id must be a positive integer", nil)
	case errors.Is(err, common.ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "INVALID_SURCHARGE", err.Error(), nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("surcharge request failed")
		common.WriteAppError(w, r, common.NewAppError("STORE_UNAVAILABLE", "surcharge store unavailable", http.StatusServiceUnavailable, err))
	}
}
