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

type RoomService interface {
	CreateRoom(ctx context.Context, actorID, otherID uuid.UUID) (*domain.ChatRoom, bool, error)
	ListRooms(ctx context.Context, userID uuid.UUID) ([]domain.ChatRoom, error)
	EnterRoom(ctx context.Context, roomID, userID uuid.UUID) (*domain.ChatRoom, error)
	LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ListMessages(ctx context.Context, roomID, userID uuid.UUID) ([]domain.Message, error)
	SendMessage(ctx context.Context, roomID, senderID uuid.UUID, content, imageURL string) (*domain.Message, error)
}

type createRoomRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,uuid"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"max=4000"`
	Image   string `json:"image" validate:"omitempty,url"`
}

// RoomHandler serves chat rooms and their messages.
type RoomHandler struct {
	svc RoomService
	log *zap.Logger
}

func NewRoomHandler(svc RoomService, log *zap.Logger) *RoomHandler {
	return &RoomHandler{svc: svc, log: log}
}

func roomIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "room_id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid room id: %w", domain.ErrBadRequest)
	}
	return id, nil
}

// Create answers 201 for a new room and 200 when the pair already had one.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var req createRoomRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, h.log, err)
		return
	}
	room, created, err := h.svc.CreateRoom(r.Context(), user.ID, uuid.MustParse(req.ParticipantID))
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	rooms, err := h.svc.ListRooms(r.Context(), user.ID)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// Get returns the room and marks the caller's incoming messages read.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	room, err := h.svc.EnterRoom(r.Context(), roomID, user.ID)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	if _, err := h.svc.LeaveRoom(r.Context(), roomID, user.ID); err != nil {
		httpError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), roomID, user.ID)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *RoomHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	roomID, err := roomIDParam(r)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	var req sendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		httpError(w, h.log, err)
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), roomID, user.ID, req.Content, req.Image)
	if err != nil {
		httpError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
