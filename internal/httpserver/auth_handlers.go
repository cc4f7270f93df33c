package httpserver

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/service"
)

type emailRequest struct {
	Email string `json:"email"`
}

type resetTokenRequest struct {
	Email          string `json:"email"`
	SecurityAnswer string `json:"security_answer"`
}

type confirmResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func handleRegister(auth *service.AuthService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.RegisterInput
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := auth.Register(r.Context(), req)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleLogin(auth *service.AuthService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.LoginInput
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := auth.Login(r.Context(), req)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleLogout(auth *service.AuthService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Logout(r.Context(), currentClaims(r)); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, CurrentUser(r))
	}
}

func handleSecurityQuestion(auth *service.AuthService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req emailRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		q, err := auth.SecurityQuestion(r.Context(), req.Email)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"security_question": q})
	}
}

func handleResetPassword(auth *service.AuthService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.ResetInput
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := auth.ResetPassword(r.Context(), req); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleIssueResetToken(auth *service.AuthService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetTokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token, err := auth.IssueResetToken(r.Context(), req.Email, req.SecurityAnswer)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"reset_token": token})
	}
}

func handleConfirmReset(auth *service.AuthService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmResetRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := auth.ConfirmReset(r.Context(), req.Token, req.NewPassword); err != nil {
			writeError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
