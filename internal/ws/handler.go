package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/security"
)

// Authenticator resolves a bearer token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, *security.Claims, error)
}

// TypingRelay forwards typing signals between conversation participants.
type TypingRelay interface {
	Typing(ctx context.Context, from *domain.User, toID string, isTyping bool) error
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))]
		return ok
	}
}

// TokenFromRequest reads the bearer token from the Authorization header or
// from a "bearer, <token>" Sec-WebSocket-Protocol header.
func TokenFromRequest(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1]
		}
	}
	return ""
}

// MakeHandler returns an HTTP handler for the /ws endpoint. After the
// upgrade the connection receives the user's change feed; inbound frames
// carry typing signals:
//
//	{"type":"typing","recipient_id":"...","is_typing":true}
func MakeHandler(hub *Hub, auth Authenticator, typing TypingRelay, allowedOrigins []string, log *zap.Logger) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		token := TokenFromRequest(r)
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		user, _, err := auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			log.Error("ws: authenticate", zap.Error(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := NewClient(user.ID, conn)
		hub.Register(c)
		log.Info("ws: connected", zap.String("user_id", user.ID))

		go c.writePump()

		// The request context ends once the handler returns; frames are
		// handled on a detached context scoped to the connection.
		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		defer cancel()

		c.readPump(func(frame map[string]any) {
			dispatch(ctx, c, user, frame, typing, log)
		})

		hub.Unregister(c)
		log.Info("ws: disconnected", zap.String("user_id", user.ID))
	}
}

func dispatch(ctx context.Context, c *Client, user *domain.User, frame map[string]any, typing TypingRelay, log *zap.Logger) {
	msgType, _ := frame["type"].(string)
	switch msgType {
	case "typing":
		to, _ := frame["recipient_id"].(string)
		isTyping, _ := frame["is_typing"].(bool)
		if err := typing.Typing(ctx, user, to, isTyping); err != nil {
			var verr *domain.ValidationError
			switch {
			case errors.As(err, &verr):
				c.enqueue(errorFrame(verr.Message))
			case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrAccountNotFound):
				c.enqueue(errorFrame("not allowed for this contact"))
			default:
				log.Warn("ws: typing", zap.String("user_id", user.ID), zap.Error(err))
				c.enqueue(errorFrame("failed to relay typing"))
			}
		}
	case "ping":
		c.enqueue(map[string]any{"type": "pong"})
	default:
		log.Debug("ws: unknown frame type", zap.String("type", msgType), zap.String("user_id", user.ID))
		c.enqueue(errorFrame(fmt.Sprintf("unknown frame type %q", msgType)))
	}
}
