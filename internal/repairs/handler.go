package repairs

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/techstore-pos/techstore/internal/ledger"
	"github.com/techstore-pos/techstore/internal/platform/httpx"
	"github.com/techstore-pos/techstore/internal/shared"
)

// Handler wires repair ticket endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers repair routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/repairs", h.create)
	r.Get("/repairs/{id}", h.get)
	r.Post("/repairs/{id}/deposit", h.takeDeposit)
	r.Post("/repairs/{id}/deposit/refund", h.refundDeposit)
	r.Post("/repairs/{id}/complete", h.complete)
	r.Post("/repairs/{id}/cancel", h.cancel)
}

type createRepairForm struct {
	CustomerID    int64  `json:"customer_id" validate:"required"`
	Device        string `json:"device" validate:"required,max=200"`
	Issue         string `json:"issue" validate:"max=2000"`
	EstimatedCost string `json:"estimated_cost"`
}

type depositForm struct {
	Amount string `json:"amount" validate:"required"`
}

type completeForm struct {
	Total      string  `json:"total" validate:"required"`
	AmountPaid *string `json:"amount_paid"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createRepairForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	estimated := decimal.Zero
	if form.EstimatedCost != "" {
		var err error
		estimated, err = decimal.NewFromString(form.EstimatedCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", "estimated_cost is not a number")
			return
		}
	}
	repair, err := h.service.Create(r.Context(), CreateRepairInput{
		CustomerID:    form.CustomerID,
		Device:        form.Device,
		Issue:         form.Issue,
		EstimatedCost: estimated,
		ActorID:       actorFrom(r),
	})
	if err != nil {
		h.respondErr(w, "create repair", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, repair)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Repair ID", err.Error())
		return
	}
	repair, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get repair", err)
		return
	}
	httpx.JSON(w, http.StatusOK, repair)
}

func (h *Handler) takeDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Repair ID", err.Error())
		return
	}
	var form depositForm
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
	repair, err := h.service.TakeDeposit(r.Context(), id, amount, actorFrom(r))
	if err != nil {
		h.respondErr(w, "take deposit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, repair)
}

func (h *Handler) refundDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Repair ID", err.Error())
		return
	}
	repair, err := h.service.RefundDeposit(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondErr(w, "refund deposit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, repair)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Repair ID", err.Error())
		return
	}
	var form completeForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	total, err := decimal.NewFromString(form.Total)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", "total is not a number")
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
	result, err := h.service.Complete(r.Context(), id, total, amountPaid, actorFrom(r))
	if err != nil {
		h.respondErr(w, "complete repair", err)
		return
	}
	if !result.Settlement.OK {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Payment Rejected", result.Settlement.Message)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Repair ID", err.Error())
		return
	}
	repair, err := h.service.Cancel(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondErr(w, "cancel repair", err)
		return
	}
	httpx.JSON(w, http.StatusOK, repair)
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrCustomerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrDepositTaken),
		errors.Is(err, ErrNoDeposit), errors.Is(err, ErrDepositConsumed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ledger.ErrAlreadyRecorded):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
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
