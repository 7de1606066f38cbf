package ws

import (
	"context"
	"sync"

	"realtime_core/internal/domain"

	"go.uber.org/zap"
)

// GroupTransport carries group events between processes. With a transport
// set, Broadcast publishes and local delivery happens when the event comes
// back through Deliveries.
type GroupTransport interface {
	Send(ctx context.Context, channel domain.ChannelKey, evt domain.GroupEvent) error
	Join(channel domain.ChannelKey) error
	Leave(channel domain.ChannelKey) error
	Deliveries() <-chan domain.GroupEnvelope
}

// Hub maps channel keys to the clients subscribed on this process. It also
// tracks live sessions so Shutdown can drain them.
type Hub struct {
	log       *zap.Logger
	transport GroupTransport

	mu     sync.RWMutex
	groups map[domain.ChannelKey]map[*Client]struct{}

	// joinMu serializes transport Join/Leave; joined is what the transport
	// currently has bound. Neither is touched under mu.
	joinMu sync.Mutex
	joined map[domain.ChannelKey]bool

	sessMu   sync.Mutex
	sessions map[*Client]struct{}
	closing  bool
	active   sync.WaitGroup
}

func NewHub(log *zap.Logger, transport GroupTransport) *Hub {
	return &Hub{
		log:       log,
		transport: transport,
		groups:    make(map[domain.ChannelKey]map[*Client]struct{}),
		joined:    make(map[domain.ChannelKey]bool),
		sessions:  make(map[*Client]struct{}),
	}
}

// Run forwards transport deliveries to local subscribers until ctx is done.
// Without a transport it only waits for ctx.
func (h *Hub) Run(ctx context.Context) {
	if h.transport == nil {
		<-ctx.Done()
		return
	}
	deliveries := h.transport.Deliveries()
	for {
		select {
		case env, ok := <-deliveries:
			if !ok {
				h.log.Warn("group transport closed")
				return
			}
			h.deliverLocal(env.Channel, env.Event)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) Subscribe(channel domain.ChannelKey, client *Client) {
	h.mu.Lock()
	set, ok := h.groups[channel]
	if !ok {
		set = make(map[*Client]struct{})
		h.groups[channel] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	h.syncTransport(channel)
}

func (h *Hub) Unsubscribe(channel domain.ChannelKey, client *Client) {
	h.mu.Lock()
	set, ok := h.groups[channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.groups, channel)
	}
	h.mu.Unlock()

	h.syncTransport(channel)
}

// syncTransport binds or unbinds channel so the transport matches the local
// subscriber set at the time of the call. Concurrent subscribe/unsubscribe
// pairs converge because the last caller re-reads the set under joinMu.
func (h *Hub) syncTransport(channel domain.ChannelKey) {
	if h.transport == nil {
		return
	}
	h.joinMu.Lock()
	defer h.joinMu.Unlock()

	want := h.Subscribers(channel) > 0
	if want == h.joined[channel] {
		return
	}
	if want {
		if err := h.transport.Join(channel); err != nil {
			h.log.Warn("failed to join group", zap.String("channel", string(channel)), zap.Error(err))
			return
		}
		h.joined[channel] = true
		return
	}
	if err := h.transport.Leave(channel); err != nil {
		h.log.Warn("failed to leave group", zap.String("channel", string(channel)), zap.Error(err))
		return
	}
	delete(h.joined, channel)
}

// track registers a session for Shutdown. It returns false once the hub is
// shutting down; the caller must then refuse the session.
func (h *Hub) track(c *Client) bool {
	h.sessMu.Lock()
	defer h.sessMu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[c] = struct{}{}
	h.active.Add(1)
	return true
}

// untrack must run after the session's cleanup has finished.
func (h *Hub) untrack(c *Client) {
	h.sessMu.Lock()
	delete(h.sessions, c)
	h.sessMu.Unlock()
	h.active.Done()
}

// Shutdown closes every tracked session and waits until each has run its
// cleanup (unsubscribe and connection record close), or until ctx is done.
// Sessions arriving afterwards are refused.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.sessMu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.sessions))
	for c := range h.sessions {
		clients = append(clients, c)
	}
	h.sessMu.Unlock()

	h.log.Info("closing websocket sessions", zap.Int("count", len(clients)))
	for _, c := range clients {
		c.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns the number of local clients on channel.
func (h *Hub) Subscribers(channel domain.ChannelKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[channel])
}

// Broadcast is best-effort: clients that went away are skipped silently.
func (h *Hub) Broadcast(ctx context.Context, channel domain.ChannelKey, evt domain.GroupEvent) error {
	if h.transport != nil {
		return h.transport.Send(ctx, channel, evt)
	}
	h.deliverLocal(channel, evt)
	return nil
}

func (h *Hub) deliverLocal(channel domain.ChannelKey, evt domain.GroupEvent) {
	h.mu.RLock()
	set := h.groups[channel]
	snapshot := make([]*Client, 0, len(set))
	for c := range set {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	payload, err := evt.Frame()
	if err != nil {
		h.log.Error("failed to encode group event", zap.String("type", evt.Type), zap.Error(err))
		return
	}

	for _, c := range snapshot {
		// A sender never gets an echo of their own chat message.
		if evt.Type == domain.GroupEventChatMessage && c.UserID == evt.SenderID {
			continue
		}
		if !c.enqueue(payload) {
			h.log.Debug("dropping event for unavailable client",
				zap.String("channel", string(channel)), zap.String("user_id", c.UserID.String()))
		}
	}
}
