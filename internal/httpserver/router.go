package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/config"
	"github.com/saurabhrjk/admin-connect-chat/internal/metrics"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
)

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Config   *config.Config
	Auth     *service.AuthService
	Users    *service.UserService
	Messages *service.MessageService
	// WS serves /ws; nil leaves the route unregistered.
	WS      http.Handler
	Limiter *LimiterStore
	// Metrics instruments requests and serves /metrics when set.
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": d.Config.AppName + " API", "version": "1.0.0"})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if d.Limiter != nil {
					r.Use(RateLimit(d.Limiter))
				}
				r.Post("/register", handleRegister(d.Auth, log))
				r.Post("/login", handleLogin(d.Auth, log))
				r.Post("/password/question", handleSecurityQuestion(d.Auth, log))
				r.Post("/password/reset", handleResetPassword(d.Auth, log))
				r.Post("/password/reset-token", handleIssueResetToken(d.Auth, log))
				r.Post("/password/confirm", handleConfirmReset(d.Auth, log))
			})

			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware(d.Auth, log))
				r.Post("/logout", handleLogout(d.Auth, log))
				r.Get("/me", handleMe())
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth, log))

			r.Route("/users", func(r chi.Router) {
				r.Get("/", handleListUsers(d.Users, log))
				r.Get("/{userID}", handleGetUser(d.Users, log))
			})
			r.Get("/contacts", handleListContacts(d.Messages, log))

			r.Route("/messages", func(r chi.Router) {
				r.Get("/", handleFetchMessages(d.Messages, log))
				r.Post("/", handleSendMessage(d.Messages, log))
				r.Post("/read", handleMarkRead(d.Messages, log))
			})

			r.Mount("/uploads", UploadRoutes(d.Config, d.Messages, log))
		})
	})

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	if d.WS != nil {
		r.Method(http.MethodGet, "/ws", d.WS)
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

const maxJSONBody = 1 << 20

// decodeJSON reads a JSON request body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return false
	}
	return true
}
