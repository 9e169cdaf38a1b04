package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/bakery-payway/internal/common"
	"github.com/noah-isme/bakery-payway/internal/obs"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Store  Store
	Events Emitter
	Logger zerolog.Logger
}

type patchStatusRequest struct {
	Status    string  `json:"status"`
	AdminNote *string `json:"adminNote"`
}

// StatusChange is the payload of order.status_changed events.
type StatusChange struct {
	OrderID string `json:"orderId"`
	To      Status `json:"to"`
	Actor   string `json:"actor"`
}

// PatchStatus updates the order status with state-machine validation.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "id"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if req.Status == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "status is required", nil)
		return
	}
	target, err := ParseStatus(req.Status)
	if err != nil || target == StatusPending {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", nil)
		return
	}
	if req.AdminNote != nil {
		note := strings.TrimSpace(*req.AdminNote)
		if len(note) > 1000 {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "adminNote is too long", nil)
			return
		}
		req.AdminNote = &note
	}

	updated, err := h.Store.Transition(r.Context(), TransitionRequest{
		ID:        orderID,
		To:        target,
		From:      Sources(target),
		AdminNote: req.AdminNote,
	})
	if err != nil {
		failure := transitionFailure(err)
		if failure.Status >= http.StatusInternalServerError {
			h.Logger.Error().Err(err).Str("order_id", orderID).Msg("update order status")
		}
		common.WriteError(w, failure)
		return
	}

	caller, _ := common.ActorFrom(r.Context())
	actor := caller.ID
	obs.IncCounter(obs.OrderTransitionsTotal, string(target), "admin")
	h.Logger.Info().Str("order_id", orderID).Str("status", string(target)).Str("actor", actor).Msg("order status updated")
	if h.Events != nil {
		change := StatusChange{OrderID: orderID, To: target, Actor: actor}
		if err := h.Events.Emit(r.Context(), TopicStatusChanged, orderID, change); err != nil {
			h.Logger.Warn().Err(err).Str("order_id", orderID).Msg("emit order.status_changed")
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

func transitionFailure(err error) *common.APIError {
	var terr *TransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		return common.Fail(http.StatusNotFound, "NOT_FOUND", "order not found", err)
	case errors.As(err, &terr):
		return common.Fail(http.StatusConflict, "INVALID_STATE", "state transition not allowed", err).
			WithDetails(map[string]any{"from": terr.From, "to": terr.To})
	default:
		return common.Fail(http.StatusInternalServerError, "INTERNAL", "failed to update order status", err)
	}
}
