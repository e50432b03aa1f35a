package server

import (
	"log"
	"net/http"

	"medibot/internal/auth"
)

// handleReset emails a reset code and remembers the address in the browser session so
// /newpass does not have to ask for it again.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	current := sessionCookie(r)
	sess, err := s.Auth.RequestPasswordReset(r.Context(), current, req.Email)
	if err != nil {
		s.fail(w, r, "reset", pageReset, req, err)
		return
	}
	if sess.ID != current {
		auth.SetSessionCookie(w, sess.ID, sess.ExpiresAt, s.Config.SecureCookies())
	}

	respond(w, r, http.StatusOK, redirectWith("/newpass", "", noticeCodeSent),
		"A password reset code has been sent to your email.")
}

func (s *Server) handleNewPassword(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, err := s.currentSession(r)
	if err != nil {
		s.fail(w, r, "new password", pageNewPassword, req, err)
		return
	}
	email := req.Email
	if email == "" && sess != nil {
		email = sess.PendingResetEmail
	}

	if err := s.Auth.CompletePasswordReset(r.Context(), email, req.Code, req.NewPassword); err != nil {
		s.fail(w, r, "new password", pageNewPassword, req, err)
		return
	}

	// every session of the account is revoked; also forget the one that held the reset
	if sess != nil {
		if err := s.Auth.Logout(r.Context(), sess.ID); err != nil {
			log.Printf("new password: drop reset session: %v", err)
		}
		auth.ClearSessionCookie(w, s.Config.SecureCookies())
	}

	respond(w, r, http.StatusOK, redirectWith("/login", email, noticePasswordReset),
		"Password has been reset successfully.")
}
