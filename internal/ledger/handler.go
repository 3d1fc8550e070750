package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/techstore-pos/techstore/internal/platform/httpx"
	"github.com/techstore-pos/techstore/internal/shared"
)

// Handler exposes the ledger query interface as JSON endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	policy  *Policy
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, policy *Policy) *Handler {
	return &Handler{logger: logger, service: service, policy: policy}
}

// MountRoutes registers ledger routes under /customers/{id}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/customers/{id}/balance", h.getBalance)
	r.Get("/customers/{id}/balance/summary", h.getBalanceSummary)
	r.Get("/customers/{id}/transactions", h.getTransactionHistory)
	r.Post("/customers/{id}/adjustments", h.recordAdjustment)
	r.Post("/customers/{id}/opening-balance", h.recordOpeningBalance)
}

func customerID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get balance", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"customer_id": id,
		"balance":     balance,
		"formatted":   FormatBalance(balance),
	})
}

func (h *Handler) getBalanceSummary(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	summary, err := h.service.GetBalanceSummary(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get balance summary", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) getTransactionHistory(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.GetTransactionHistory(r.Context(), id, limit)
	if err != nil {
		h.respondErr(w, "get transaction history", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"customer_id":  id,
		"transactions": items,
	})
}

type adjustmentForm struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

func (f adjustmentForm) parse() (decimal.Decimal, time.Time, error) {
	amount, err := decimal.NewFromString(f.Amount)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	at := time.Now().UTC()
	if f.Date != "" {
		at, err = time.Parse(time.RFC3339, f.Date)
		if err != nil {
			return decimal.Decimal{}, time.Time{}, err
		}
	}
	return amount, at, nil
}

func (h *Handler) recordAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	var form adjustmentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	amount, at, err := form.parse()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	entry, err := h.service.RecordAdjustment(r.Context(), id, amount, at, form.Description, actorFrom(r))
	if err != nil {
		h.respondRecordErr(w, "record adjustment", id, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) recordOpeningBalance(w http.ResponseWriter, r *http.Request) {
	id, err := customerID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	var form adjustmentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	amount, at, err := form.parse()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	entry, err := h.service.RecordOpeningBalance(r.Context(), id, amount, at, actorFrom(r))
	if err != nil {
		h.respondRecordErr(w, "record opening balance", id, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) respondRecordErr(w http.ResponseWriter, op string, customerID int64, err error) {
	switch {
	case errors.Is(err, ErrNonPositiveAmount), errors.Is(err, ErrAmountPrecision), errors.Is(err, ErrInvalidType):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Transaction", err.Error())
	case errors.Is(err, ErrAlreadyRecorded):
		httpx.Problem(w, http.StatusConflict, "Already Recorded", err.Error())
	default:
		h.respondErr(w, op, customerID, err)
	}
}

func actorFrom(r *http.Request) int64 {
	if id := shared.ActorFromContext(r.Context()); id > 0 {
		return id
	}
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, customerID int64, err error) {
	switch {
	case errors.Is(err, ErrCustomerNotFound), errors.Is(err, ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Int64("customer_id", customerID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
