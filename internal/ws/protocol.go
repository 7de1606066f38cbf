package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"realtime_core/internal/domain"
	"realtime_core/internal/presence"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Close codes sent on rejected or failed sessions.
const (
	CloseInvalidRoom     = 4000
	CloseUnauthenticated = 4001
	CloseNotParticipant  = 4002
	CloseInternalError   = 4003

	closeShuttingDown = websocket.CloseGoingAway
)

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	default:
		return "closed"
	}
}

const cleanupTimeout = 5 * time.Second

type Authenticator interface {
	Resolve(ctx context.Context, token string) (domain.User, error)
}

type Membership interface {
	IsParticipant(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

type Presence interface {
	Open(ctx context.Context, userID uuid.UUID, channel domain.ChannelKey) (presence.Handle, error)
	Close(ctx context.Context, h presence.Handle) error
	Heartbeat(ctx context.Context, h presence.Handle) error
}

type ReadState interface {
	OnRoomEntry(ctx context.Context, roomID, userID uuid.UUID) (int64, error)
	Acknowledge(ctx context.Context, roomID, messageID uuid.UUID) error
}

type MessageSender interface {
	SendMessage(ctx context.Context, roomID, senderID uuid.UUID, content, imageURL string) (*domain.Message, error)
}

type TokenExtractor func(r *http.Request) string

type Options struct {
	PongWait        time.Duration
	WriteWait       time.Duration
	PingPeriod      time.Duration
	MaxMessageBytes int64
	FrameRate       float64
	FrameBurst      int
	AllowedOrigins  []string
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]bool)
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin]
		},
	}
}

// session carries the per-connection state shared by both protocols.
type session struct {
	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	log   *zap.Logger
	opts  Options
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// reject closes a session that never reached Subscribed.
func (s *session) reject(code int, reason string) {
	s.log.Info("rejecting websocket session", zap.Int("code", code), zap.String("reason", reason))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(s.opts.WriteWait))
	_ = s.conn.Close()
	s.setState(StateClosed)
}

func writeJSONFrame(c *Client, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

type statusFrame struct {
	Status string `json:"status"`
	RoomID string `json:"room_id,omitempty"`
}

type errorFrame struct {
	Error string `json:"error"`
}

func cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cleanupTimeout)
}
