package insurance

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/common"
)

// Handler exposes the insurance calculation endpoints.
type Handler struct {
	Svc *Service
}

type productResponse struct {
	ProductID      int             `json:"productId"`
	InsuranceValue decimal.Decimal `json:"insuranceValue"`
}

type cartResponse struct {
	TotalInsurance decimal.Decimal `json:"totalInsurance"`
}

// Routes registers the insurance endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/product", h.Product)
	r.Post("/cart", h.Cart)
}

// Product prices one product.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PRODUCT", "invalid product insurance request", nil)
		return
	}
	if req.ProductID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PRODUCT", fmt.Sprintf("invalid product insurance id %d", req.ProductID), nil)
		return
	}
	res, err := h.Svc.CalculateInsurance(r.Context(), req)
	if err != nil {
		h.writeError(w, r, req.ProductID, err)
		return
	}
	common.JSON(w, http.StatusOK, productResponse{ProductID: res.ProductID, InsuranceValue: res.InsuranceValue})
}

// Cart prices a whole cart.
func (h *Handler) Cart(w http.ResponseWriter, r *http.Request) {
	var items []Request
	if err := common.DecodeJSON(r, &items); err != nil || len(items) == 0 {
		common.JSONError(w, http.StatusBadRequest, "EMPTY_CART", "shopping cart is empty or invalid", nil)
		return
	}
	total, err := h.Svc.CalculateCartTotal(r.Context(), items)
	if err != nil {
		h.writeError(w, r, 0, err)
		return
	}
	if !total.IsPositive() {
		common.JSONError(w, http.StatusBadRequest, "CART_NOT_ELIGIBLE", "shopping cart values are not eligible for insurance", nil)
		return
	}
	common.JSON(w, http.StatusOK, cartResponse{TotalInsurance: total})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, productID int, err error) {
	switch {
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusBadRequest, "EMPTY_CART", "shopping cart is empty or invalid", nil)
	case errors.Is(err, ErrInvalidProduct):
		common.JSONError(w, http.StatusBadRequest, "INVALID_PRODUCT", fmt.Sprintf("invalid product insurance id %d", productID), nil)
	case errors.Is(err, common.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", fmt.Sprintf("requested product %d can not be found in system", productID), nil)
	default:
		common.WriteAppError(w, r, err)
	}
}
