package httpserver

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
)

type markReadRequest struct {
	IDs []string `json:"ids"`
}

type markReadResponse struct {
	Updated []domain.Message `json:"updated"`
}

func handleListContacts(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts, err := messages.ListContacts(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, contacts)
	}
}

// handleFetchMessages answers with the caller's conversations keyed by
// contact id.
func handleFetchMessages(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads, err := messages.FetchMessages(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, threads)
	}
}

func handleSendMessage(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SendInput
		if !decodeJSON(w, r, &req) {
			return
		}
		msg, err := messages.SendMessage(r.Context(), CurrentUser(r), req)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleMarkRead(messages *service.MessageService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markReadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		updated, err := messages.MarkAsRead(r.Context(), CurrentUser(r), req.IDs)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if updated == nil {
			updated = []domain.Message{}
		}
		writeJSON(w, http.StatusOK, markReadResponse{Updated: updated})
	}
}
