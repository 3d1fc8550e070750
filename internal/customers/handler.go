package customers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/techstore-pos/techstore/internal/platform/httpx"
	"github.com/techstore-pos/techstore/internal/shared"
)

// Handler wires customer CRUD endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers customer routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/customers", h.list)
	r.Post("/customers", h.create)
	r.Get("/customers/{id}", h.get)
	r.Put("/customers/{id}", h.update)
	r.Delete("/customers/{id}", h.delete)
}

type customerForm struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"required,max=30"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"max=500"`
	Notes   string `json:"notes" validate:"max=1000"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	items, pagination, err := h.service.List(r.Context(), ListFilters{
		Page:    page,
		PerPage: perPage,
		Search:  q.Get("q"),
	})
	if err != nil {
		h.respondErr(w, "list customers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"customers":  items,
		"pagination": pagination,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	customer, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	customer, err := h.service.Create(r.Context(), Customer{
		Name:    form.Name,
		Phone:   form.Phone,
		Email:   form.Email,
		Address: form.Address,
		Notes:   form.Notes,
	}, actorFrom(r))
	if err != nil {
		h.respondErr(w, "create customer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, customer)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	form, ok := h.decodeForm(w, r)
	if !ok {
		return
	}
	err = h.service.Update(r.Context(), id, Customer{
		Name:     form.Name,
		Phone:    form.Phone,
		Email:    form.Email,
		Address:  form.Address,
		Notes:    form.Notes,
		IsActive: true,
	}, actorFrom(r))
	if err != nil {
		h.respondErr(w, "update customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Customer ID", err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), id, actorFrom(r)); err != nil {
		h.respondErr(w, "delete customer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) decodeForm(w http.ResponseWriter, r *http.Request) (customerForm, bool) {
	var form customerForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return form, false
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return form, false
	}
	return form, true
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicatePhone):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrDeleteBlocked):
		httpx.Problem(w, http.StatusConflict, "Delete Blocked", err.Error())
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
