package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/bakery-payway/internal/auth"
	"github.com/noah-isme/bakery-payway/internal/common"
)

// Emitter publishes order lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) error
}

// Handler exposes the customer-facing order endpoints.
type Handler struct {
	Store    Store
	Validate *validator.Validate
	Events   Emitter
	Logger   zerolog.Logger
}

// Create places a new pending order.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	var in NewOrder
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	in = in.Normalize()
	if err := h.validator().Struct(in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid order", validationDetails(err))
		return
	}
	if err := in.CheckAmounts(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	created, err := h.Store.Create(r.Context(), in)
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", in.UserID).Msg("create order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create order", nil)
		return
	}
	if h.Events != nil {
		if err := h.Events.Emit(r.Context(), TopicCreated, created.ID, created); err != nil {
			h.Logger.Warn().Err(err).Str("order_id", created.ID).Msg("emit order.created")
		}
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// Get returns a single order, used by the receipt page.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order id is required", nil)
		return
	}
	o, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		h.Logger.Error().Err(err).Str("order_id", id).Msg("load order")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// List returns the caller's orders, newest first. Only admins may pass another ?userId=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	caller, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	switch {
	case userID == "":
		userID = caller.ID
	case userID != caller.ID && !caller.HasRole(auth.RoleAdmin):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "cannot list another user's orders", nil)
		return
	}
	page := common.PageFromQuery(r.URL.Query(), 20, 100)
	orders, err := h.Store.ListByUser(r.Context(), userID, page.Size, page.Offset())
	if err != nil {
		h.Logger.Error().Err(err).Str("user_id", userID).Msg("list orders")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	w.Header().Set("X-Page-Count", strconv.Itoa(len(orders)))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": orders,
		"pagination": common.PageMeta{Page: page, Count: len(orders)},
	})
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate == nil {
		h.Validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return h.Validate
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = fe.Tag()
	}
	return details
}
