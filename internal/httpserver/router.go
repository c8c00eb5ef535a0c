package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"zchat/internal/attachment"
	"zchat/internal/service"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Auth          *service.AuthService
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService

	Attachments attachment.Store
	// Disk serves GET /api/uploads/{name}; nil when attachments live in S3.
	Disk           *attachment.Disk
	MaxUploadBytes int64

	// Gateway handles the websocket subscription endpoint.
	Gateway http.Handler

	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		// Timeouts apply to request/response routes only; /ws is long-lived.
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth))
			r.Post("/login", handleLogin(d.Auth))
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth, d.Logger))

			r.Get("/auth/me", handleMe())

			r.Route("/users", func(r chi.Router) {
				r.Post("/username", handleCreateUsername(d.Users))
				r.Get("/search", handleSearchUsers(d.Users))
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", handleListConversations(d.Conversations))
				r.Post("/", handleCreateConversation(d.Conversations))
				r.Get("/{conversationID}", handleGetConversation(d.Conversations))
				r.Delete("/{conversationID}", handleDeleteConversation(d.Conversations))
				r.Put("/{conversationID}/participants", handleUpdateParticipants(d.Conversations))
				r.Post("/{conversationID}/read", handleMarkConversationRead(d.Conversations))
				r.Get("/{conversationID}/messages", handleListMessages(d.Messages))
				r.Post("/{conversationID}/messages", handleSendMessage(d.Messages))
			})

			r.Delete("/messages/{messageID}", handleDeleteMessage(d.Messages))

			if d.Attachments != nil {
				r.Post("/uploads", handleUpload(d.Attachments, d.MaxUploadBytes))
			}
		})

		if d.Disk != nil {
			r.Get("/uploads/{filename}", handleServeUpload(d.Disk))
		}
	})

	if d.Gateway != nil {
		r.Get("/ws", d.Gateway.ServeHTTP)
	}

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
