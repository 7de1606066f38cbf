package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"realtime_core/internal/auth"
	"realtime_core/internal/chat"
	"realtime_core/internal/domain"
	"realtime_core/internal/events"
	"realtime_core/internal/notify"
	"realtime_core/internal/presence"
	"realtime_core/internal/push"
	"realtime_core/internal/readstate"
	"realtime_core/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const internalToken = "internal-secret"

type nopFanout struct{}

func (nopFanout) Broadcast(context.Context, domain.ChannelKey, domain.GroupEvent) error { return nil }

type stubSessions struct{ roomID string }

func (s *stubSessions) Serve(w http.ResponseWriter, _ *http.Request, rawRoomID string) {
	s.roomID = rawRoomID
	w.WriteHeader(http.StatusTeapot)
}

type stubNotificationSessions struct{}

func (stubNotificationSessions) Serve(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

type testServer struct {
	handler  http.Handler
	verifier *auth.Verifier
	store    *repository.MemoryStore
	chatWS   *stubSessions
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore()
	registry := presence.NewRegistry(presence.NewMemoryRepository(), "node-a", 0)
	bus := events.NewBus(log)
	verifier := auth.NewVerifier("secret")

	reads := readstate.NewReconciler(store, registry, nopFanout{}, log)
	notify.NewDispatcher(store, store, registry, push.NewPusher(registry, nopFanout{}, log), log).Register(bus)
	chatWS := &stubSessions{}

	return &testServer{
		handler: NewRouter(&Deps{
			Log:            log,
			Auth:           auth.NewResolver(verifier, store),
			Rooms:          chat.NewService(store, reads, nopFanout{}, bus, registry, log),
			Notifications:  notify.NewService(store),
			Events:         bus,
			ChatWS:         chatWS,
			NotificationWS: stubNotificationSessions{},
			AllowedOrigins: []string{"*"},
			InternalToken:  internalToken,
		}),
		verifier: verifier,
		store:    store,
		chatWS:   chatWS,
	}
}

func (s *testServer) token(t *testing.T, u domain.User) string {
	t.Helper()
	tok, err := s.verifier.Sign(u.ID.String(), u.Username, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/rooms", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/notifications", "bogus", nil).Code)
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := domain.User{ID: uuid.New(), Username: "alice"}
	bob := domain.User{ID: uuid.New(), Username: "bob"}
	aliceTok, bobTok := s.token(t, alice), s.token(t, bob)

	// Bob must have authenticated once to be known.
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/rooms", bobTok, nil).Code)

	rr := s.do(t, http.MethodPost, "/rooms", aliceTok, map[string]string{"participant_id": bob.ID.String()})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var room domain.ChatRoom
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
	assert.Equal(t, "alice, bob's chat", room.Name)

	rr = s.do(t, http.MethodPost, "/rooms", bobTok, map[string]string{"participant_id": alice.ID.String()})
	require.Equal(t, http.StatusOK, rr.Code)

	path := "/rooms/" + room.ID.String()
	rr = s.do(t, http.MethodPost, path+"/messages", aliceTok, map[string]string{"content": "hello"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var msg domain.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
	assert.False(t, msg.IsRead)

	// Bob was away, so he has a message notification.
	rr = s.do(t, http.MethodGet, "/notifications", bobTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var notes []domain.Notification
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "alice sent you a new message.", notes[0].Message)

	// Opening the room marks it read.
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, bobTok, nil).Code)
	rr = s.do(t, http.MethodGet, path+"/messages", bobTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead)

	// Outsiders see nothing.
	eve := s.token(t, domain.User{ID: uuid.New(), Username: "eve"})
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, eve, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, path+"/messages", eve, map[string]string{"content": "hi"}).Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path+"/leave", aliceTok, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path+"/leave", bobTok, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, bobTok, nil).Code)
}

func TestRooms_BadRequests(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, domain.User{ID: uuid.New(), Username: "alice"})

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/rooms", tok, map[string]string{"participant_id": "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/rooms", tok, map[string]string{"other": "x"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/rooms", tok, map[string]string{"participant_id": uuid.NewString()}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/rooms/not-a-uuid", tok, nil).Code)
}

func TestNotifications_Endpoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	user := domain.User{ID: uuid.New(), Username: "alice"}
	tok := s.token(t, user)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n := &domain.Notification{
			ID:          uuid.New(),
			RecipientID: user.ID,
			Type:        domain.NotificationComment,
			Message:     "x",
			SubjectID:   uuid.New(),
			CreatedAt:   time.Now().UTC(),
		}
		_, err := s.store.CreateIfAbsent(ctx, n)
		require.NoError(t, err)
		ids = append(ids, n.ID)
	}

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/notifications/"+ids[0].String()+"/read", tok, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/notifications/"+ids[1].String(), tok, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/notifications/"+ids[1].String(), tok, nil).Code)

	other := s.token(t, domain.User{ID: uuid.New(), Username: "mallory"})
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/notifications/"+ids[2].String(), other, nil).Code)

	rr := s.do(t, http.MethodDelete, "/notifications", tok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deleted":2}`, rr.Body.String())
}

func TestEventIngest(t *testing.T) {
	s := newTestServer(t)
	author, liker := uuid.New(), uuid.New()
	body := map[string]interface{}{
		"event_type": domain.EventTypeLikeCreated,
		"payload": domain.LikeCreated{
			LikeID: uuid.New(), PostID: uuid.New(), PostAuthorID: author, UserID: liker, Username: "bob",
		},
	}

	rr := s.do(t, http.MethodPost, "/internal/events", "", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	post := func(b interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
		req := httptest.NewRequest(http.MethodPost, "/internal/events", &buf)
		req.Header.Set("X-Internal-Token", internalToken)
		out := httptest.NewRecorder()
		s.handler.ServeHTTP(out, req)
		return out
	}

	require.Equal(t, http.StatusAccepted, post(body).Code)
	require.Equal(t, http.StatusAccepted, post(body).Code)

	list, err := s.store.ListNotifications(context.Background(), author)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, post(map[string]interface{}{"event_type": "MESSAGE_CREATED", "payload": map[string]string{}}).Code)
	assert.Equal(t, http.StatusBadRequest, post(map[string]interface{}{"event_type": domain.EventTypeLikeCreated, "payload": map[string]int{"post_id": 1}}).Code)
}

func TestWebsocketRoutes(t *testing.T) {
	s := newTestServer(t)
	id := uuid.NewString()

	rr := s.do(t, http.MethodGet, "/ws/chat/"+id+"/", "", nil)
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, id, s.chatWS.roomID)

	rr = s.do(t, http.MethodGet, "/ws/notifications/", "", nil)
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

type mockRooms struct{ mock.Mock }

func (m *mockRooms) CreateRoom(ctx context.Context, actorID, otherID uuid.UUID) (*domain.ChatRoom, bool, error) {
	args := m.Called(ctx, actorID, otherID)
	room, _ := args.Get(0).(*domain.ChatRoom)
	return room, args.Bool(1), args.Error(2)
}

func (m *mockRooms) ListRooms(ctx context.Context, userID uuid.UUID) ([]domain.ChatRoom, error) {
	args := m.Called(ctx, userID)
	rooms, _ := args.Get(0).([]domain.ChatRoom)
	return rooms, args.Error(1)
}

func (m *mockRooms) EnterRoom(ctx context.Context, roomID, userID uuid.UUID) (*domain.ChatRoom, error) {
	args := m.Called(ctx, roomID, userID)
	room, _ := args.Get(0).(*domain.ChatRoom)
	return room, args.Error(1)
}

func (m *mockRooms) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRooms) ListMessages(ctx context.Context, roomID, userID uuid.UUID) ([]domain.Message, error) {
	args := m.Called(ctx, roomID, userID)
	msgs, _ := args.Get(0).([]domain.Message)
	return msgs, args.Error(1)
}

func (m *mockRooms) SendMessage(ctx context.Context, roomID, senderID uuid.UUID, content, imageURL string) (*domain.Message, error) {
	args := m.Called(ctx, roomID, senderID, content, imageURL)
	msg, _ := args.Get(0).(*domain.Message)
	return msg, args.Error(1)
}

func TestHTTPError_Mapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rooms := new(mockRooms)
		rooms.On("ListRooms", mock.Anything, mock.Anything).Return(nil, tc.err)

		h := NewRoomHandler(rooms, zap.NewNop())
		req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
		req = req.WithContext(context.WithValue(req.Context(), userKey, domain.User{ID: uuid.New()}))
		rr := httptest.NewRecorder()
		h.List(rr, req)

		assert.Equal(t, tc.code, rr.Code, tc.err.Error())
		rooms.AssertExpectations(t)
	}
}
