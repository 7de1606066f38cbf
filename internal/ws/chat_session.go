package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"realtime_core/internal/domain"
	"realtime_core/internal/pkg/validate"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChatProtocol runs one chat room session per connection:
// Connecting -> Authenticated -> Subscribed -> Closed.
type ChatProtocol struct {
	hub      *Hub
	auth     Authenticator
	token    TokenExtractor
	rooms    Membership
	presence Presence
	reads    ReadState
	sender   MessageSender
	log      *zap.Logger
	opts     Options

	// observe is a test hook for state transitions.
	observe func(State)
}

func NewChatProtocol(
	hub *Hub,
	auth Authenticator,
	token TokenExtractor,
	rooms Membership,
	presence Presence,
	reads ReadState,
	sender MessageSender,
	log *zap.Logger,
	opts Options,
) *ChatProtocol {
	return &ChatProtocol{
		hub:      hub,
		auth:     auth,
		token:    token,
		rooms:    rooms,
		presence: presence,
		reads:    reads,
		sender:   sender,
		log:      log,
		opts:     opts,
	}
}

// Serve upgrades the request and blocks until the session ends.
func (p *ChatProtocol) Serve(w http.ResponseWriter, r *http.Request, rawRoomID string) {
	upgrader := newUpgrader(p.opts.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{state: StateConnecting, conn: conn, log: p.log, opts: p.opts}
	ctx := r.Context()
	defer func() {
		if p.observe != nil {
			p.observe(s.State())
		}
	}()

	roomID, err := uuid.Parse(rawRoomID)
	if err != nil {
		s.reject(CloseInvalidRoom, "invalid room id")
		return
	}

	user, err := p.auth.Resolve(ctx, p.token(r))
	if err != nil {
		s.reject(CloseUnauthenticated, "authentication required")
		return
	}
	s.setState(StateAuthenticated)
	log := p.log.With(zap.String("user_id", user.ID.String()), zap.String("room_id", roomID.String()))

	member, err := p.rooms.IsParticipant(ctx, roomID, user.ID)
	if err != nil {
		log.Error("membership check failed", zap.Error(err))
		s.reject(CloseInternalError, "internal error")
		return
	}
	if !member {
		s.reject(CloseNotParticipant, "not a participant")
		return
	}

	client := NewClient(conn, user.ID, log)
	if !p.hub.track(client) {
		s.reject(closeShuttingDown, "server shutting down")
		return
	}
	defer p.hub.untrack(client)

	channel := domain.RoomChannel(roomID)
	handle, err := p.presence.Open(ctx, user.ID, channel)
	if err != nil {
		log.Error("failed to record connection", zap.Error(err))
		s.reject(CloseInternalError, "internal error")
		return
	}

	p.hub.Subscribe(channel, client)
	s.setState(StateSubscribed)

	defer func() {
		cctx, cancel := cleanupContext()
		defer cancel()
		p.hub.Unsubscribe(channel, client)
		if err := p.presence.Close(cctx, handle); err != nil {
			log.Warn("failed to record disconnect", zap.Error(err))
		}
		client.Shutdown()
		s.setState(StateClosed)
		log.Info("chat session closed")
	}()

	if _, err := p.reads.OnRoomEntry(ctx, roomID, user.ID); err != nil {
		log.Warn("room entry mark-as-read failed", zap.Error(err))
	}

	writeJSONFrame(client, statusFrame{Status: "connected", RoomID: roomID.String()})
	log.Info("chat session established")

	go client.WritePump(p.opts.WriteWait, p.opts.PingPeriod)

	limiter := rate.NewLimiter(rate.Limit(p.opts.FrameRate), p.opts.FrameBurst)
	client.ReadPump(p.opts.MaxMessageBytes, p.opts.PongWait,
		func() {
			if err := p.presence.Heartbeat(ctx, handle); err != nil {
				log.Debug("heartbeat failed", zap.Error(err))
			}
		},
		func(payload []byte) {
			if !limiter.Allow() {
				writeJSONFrame(client, errorFrame{Error: "too many messages"})
				return
			}
			p.handleFrame(ctx, client, roomID, user.ID, payload)
		},
	)
}

func (p *ChatProtocol) handleFrame(ctx context.Context, client *Client, roomID, userID uuid.UUID, payload []byte) {
	var frame domain.InboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		writeJSONFrame(client, errorFrame{Error: "invalid message payload"})
		return
	}
	if err := validate.Struct(frame); err != nil {
		writeJSONFrame(client, errorFrame{Error: err.Error()})
		return
	}

	if frame.Message != nil && strings.TrimSpace(*frame.Message) != "" {
		if _, err := p.sender.SendMessage(ctx, roomID, userID, *frame.Message, ""); err != nil {
			client.log.Warn("failed to send message", zap.Error(err))
			writeJSONFrame(client, errorFrame{Error: "failed to send message"})
			return
		}
		// The sender is looking at the room, so whatever arrived meanwhile is read.
		if _, err := p.reads.OnRoomEntry(ctx, roomID, userID); err != nil {
			client.log.Warn("mark-as-read after send failed", zap.Error(err))
		}
		return
	}

	if frame.MessageID != nil {
		messageID, err := uuid.Parse(*frame.MessageID)
		if err != nil {
			writeJSONFrame(client, errorFrame{Error: "invalid message_id"})
			return
		}
		if err := p.reads.Acknowledge(ctx, roomID, messageID); err != nil {
			client.log.Warn("read acknowledgement failed",
				zap.String("message_id", messageID.String()), zap.Error(err))
			writeJSONFrame(client, errorFrame{Error: "unknown message"})
		}
	}
}
