package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"realtime_core/internal/domain"
	"realtime_core/internal/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// eventRequest is the envelope the CRUD layer posts after each write. The
// chat service raises MESSAGE_CREATED itself, so it is not accepted here.
type eventRequest struct {
	ID        string          `json:"id" validate:"omitempty,uuid"`
	EventType string          `json:"event_type" validate:"required,oneof=COMMENT_CREATED FOLLOW_CREATED FOLLOW_DELETED LIKE_CREATED"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	CreatedAt time.Time       `json:"created_at"`
}

type EventHandler struct {
	publisher events.Publisher
	log       *zap.Logger
}

func NewEventHandler(publisher events.Publisher, log *zap.Logger) *EventHandler {
	return &EventHandler{publisher: publisher, log: log}
}

func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, h.log, err)
		return
	}

	evt := &domain.OutboxEvent{
		ID:        uuid.New(),
		EventType: req.EventType,
		Payload:   req.Payload,
		CreatedAt: req.CreatedAt,
	}
	if req.ID != "" {
		evt.ID = uuid.MustParse(req.ID)
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	if err := h.publisher.Publish(r.Context(), evt); err != nil {
		if errors.Is(err, domain.ErrBadRequest) {
			httpError(w, h.log, err)
			return
		}
		// The event is accepted; handler failures are already logged.
		h.log.Warn("event handlers reported errors", zap.String("event_id", evt.ID.String()), zap.Error(err))
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": evt.ID.String()})
}
