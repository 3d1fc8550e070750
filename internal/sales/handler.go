package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/techstore-pos/techstore/internal/ledger"
	"github.com/techstore-pos/techstore/internal/platform/httpx"
	"github.com/techstore-pos/techstore/internal/shared"
)

// Handler wires sale and payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers sales routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.completeSale)
	r.Get("/sales/{id}", h.getSale)
	r.Post("/sales/{id}/void", h.voidSale)
	r.Post("/payments", h.receivePayment)
}

type completeSaleForm struct {
	CustomerID    *int64  `json:"customer_id"`
	TotalAmount   string  `json:"total_amount" validate:"required"`
	AmountPaid    *string `json:"amount_paid"`
	PaymentMethod string  `json:"payment_method" validate:"omitempty,oneof=cash card gcash bank_transfer"`
	SoldAt        string  `json:"sold_at"`
}

type receivePaymentForm struct {
	CustomerID int64  `json:"customer_id" validate:"required"`
	Amount     string `json:"amount" validate:"required"`
	Method     string `json:"method" validate:"omitempty,oneof=cash card gcash bank_transfer"`
}

func (h *Handler) completeSale(w http.ResponseWriter, r *http.Request) {
	var form completeSaleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	total, err := decimal.NewFromString(form.TotalAmount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", "total_amount is not a number")
		return
	}
	var amountPaid *decimal.Decimal
	if form.AmountPaid != nil {
		paid, err := decimal.NewFromString(*form.AmountPaid)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", "amount_paid is not a number")
			return
		}
		amountPaid = &paid
	}
	var soldAt time.Time
	if form.SoldAt != "" {
		soldAt, err = time.Parse(time.RFC3339, form.SoldAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "sold_at must be RFC3339")
			return
		}
	}

	result, err := h.service.CompleteSale(r.Context(), CompleteSaleInput{
		CustomerID:     form.CustomerID,
		TotalAmount:    total,
		AmountPaid:     amountPaid,
		PaymentMethod:  form.PaymentMethod,
		SoldAt:         soldAt,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        actorFrom(r),
	})
	if err != nil {
		h.respondErr(w, "complete sale", err)
		return
	}
	if !result.Settlement.OK {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Payment Rejected", result.Settlement.Message)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Sale ID", err.Error())
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) voidSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Sale ID", err.Error())
		return
	}
	sale, err := h.service.VoidSale(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondErr(w, "void sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) receivePayment(w http.ResponseWriter, r *http.Request) {
	var form receivePaymentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(form.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", "amount is not a number")
		return
	}
	payment, err := h.service.ReceivePayment(r.Context(), ReceivePaymentInput{
		CustomerID:     form.CustomerID,
		Amount:         amount,
		Method:         form.Method,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        actorFrom(r),
	})
	if err != nil {
		h.respondErr(w, "receive payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ledger.ErrCustomerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyVoided):
		httpx.Problem(w, http.StatusConflict, "Already Voided", err.Error())
	case errors.Is(err, ledger.ErrCreditLimitExceeded):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Credit Limit Exceeded", err.Error())
	case errors.Is(err, ledger.ErrAlreadyRecorded), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrNoCustomer):
		httpx.Problem(w, http.StatusBadRequest, "Customer Required", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// actorFrom resolves the acting user from the X-Actor-ID header set by the
// upstream POS gateway. Zero means unattributed.
func actorFrom(r *http.Request) int64 {
	if id := shared.ActorFromContext(r.Context()); id > 0 {
		return id
	}
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
