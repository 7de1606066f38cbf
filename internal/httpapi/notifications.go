package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"realtime_core/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type NotificationService interface {
	List(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
}

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	svc NotificationService
	log *zap.Logger
}

func NewNotificationHandler(svc NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, log: log}
}

func notificationIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid notification id: %w", domain.ErrBadRequest)
	}
	return id, nil
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	list, err := h.svc.List(r.Context(), user.ID)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	id, err := notificationIDParam(r)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	if err := h.svc.Delete(r.Context(), user.ID, id); err != nil {
		httpError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	n, err := h.svc.DeleteAll(r.Context(), user.ID)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	id, err := notificationIDParam(r)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	if err := h.svc.MarkRead(r.Context(), user.ID, id); err != nil {
		httpError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
