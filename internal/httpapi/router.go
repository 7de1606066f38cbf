package httpapi

import (
	"net/http"

	"realtime_core/internal/events"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type ChatSessions interface {
	Serve(w http.ResponseWriter, r *http.Request, rawRoomID string)
}

type NotificationSessions interface {
	Serve(w http.ResponseWriter, r *http.Request)
}

// Deps holds everything the router wires into handlers.
type Deps struct {
	Log            *zap.Logger
	Auth           Authenticator
	Rooms          RoomService
	Notifications  NotificationService
	Events         events.Publisher
	ChatWS         ChatSessions
	NotificationWS NotificationSessions
	AllowedOrigins []string
	// InternalToken guards event ingest; empty leaves it unmounted.
	InternalToken string
}

// NewRouter builds and returns the application router.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(deps.Log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rooms := NewRoomHandler(deps.Rooms, deps.Log)
	notifications := NewNotificationHandler(deps.Notifications, deps.Log)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Websocket handlers authenticate inside the session so that failures
	// surface as close codes rather than HTTP errors.
	r.Get("/ws/chat/{room_id}", func(w http.ResponseWriter, r *http.Request) {
		deps.ChatWS.Serve(w, r, chi.URLParam(r, "room_id"))
	})
	r.Get("/ws/chat/{room_id}/", func(w http.ResponseWriter, r *http.Request) {
		deps.ChatWS.Serve(w, r, chi.URLParam(r, "room_id"))
	})
	r.Get("/ws/notifications", deps.NotificationWS.Serve)
	r.Get("/ws/notifications/", deps.NotificationWS.Serve)

	if deps.InternalToken != "" {
		r.With(requireInternalToken(deps.InternalToken)).
			Post("/internal/events", NewEventHandler(deps.Events, deps.Log).Ingest)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireUser(deps.Auth))

		r.Post("/rooms", rooms.Create)
		r.Get("/rooms", rooms.List)
		r.Get("/rooms/{room_id}", rooms.Get)
		r.Delete("/rooms/{room_id}/leave", rooms.Leave)
		r.Get("/rooms/{room_id}/messages", rooms.ListMessages)
		r.Post("/rooms/{room_id}/messages", rooms.SendMessage)

		r.Get("/notifications", notifications.List)
		r.Delete("/notifications", notifications.DeleteAll)
		r.Delete("/notifications/{id}", notifications.Delete)
		r.Post("/notifications/{id}/read", notifications.MarkRead)
	})

	return r
}
