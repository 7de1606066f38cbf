package ws

import (
	"encoding/json"
	"net/http"

	"realtime_core/internal/domain"

	"go.uber.org/zap"
)

// NotificationProtocol subscribes an authenticated user to their private
// notification channel. Inbound frames are only answered when they are pings.
type NotificationProtocol struct {
	hub      *Hub
	auth     Authenticator
	token    TokenExtractor
	presence Presence
	log      *zap.Logger
	opts     Options

	observe func(State)
}

func NewNotificationProtocol(
	hub *Hub,
	auth Authenticator,
	token TokenExtractor,
	presence Presence,
	log *zap.Logger,
	opts Options,
) *NotificationProtocol {
	return &NotificationProtocol{hub: hub, auth: auth, token: token, presence: presence, log: log, opts: opts}
}

func (p *NotificationProtocol) Serve(w http.ResponseWriter, r *http.Request) {
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

	user, err := p.auth.Resolve(ctx, p.token(r))
	if err != nil {
		s.reject(CloseUnauthenticated, "authentication required")
		return
	}
	s.setState(StateAuthenticated)
	log := p.log.With(zap.String("user_id", user.ID.String()))

	client := NewClient(conn, user.ID, log)
	if !p.hub.track(client) {
		s.reject(closeShuttingDown, "server shutting down")
		return
	}
	defer p.hub.untrack(client)

	channel := domain.NotificationChannel(user.ID)
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
	}()

	writeJSONFrame(client, statusFrame{Status: "connected"})
	go client.WritePump(p.opts.WriteWait, p.opts.PingPeriod)

	client.ReadPump(p.opts.MaxMessageBytes, p.opts.PongWait,
		func() {
			if err := p.presence.Heartbeat(ctx, handle); err != nil {
				log.Debug("heartbeat failed", zap.Error(err))
			}
		},
		func(payload []byte) {
			var ping struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(payload, &ping) == nil && ping.Type == "ping" {
				if err := p.presence.Heartbeat(ctx, handle); err != nil {
					log.Debug("heartbeat failed", zap.Error(err))
				}
				writeJSONFrame(client, map[string]string{"type": "pong"})
			}
		},
	)
}
