package server

import (
	"log"
	"net/http"
	"net/url"

	"medibot/internal/auth"
)

func redirectWith(path, email, notice string) string {
	q := url.Values{}
	if email != "" {
		q.Set("email", email)
	}
	if notice != "" {
		q.Set("notice", notice)
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcome, err := s.Auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, "register", pageRegister, req, err)
		return
	}

	if outcome == auth.OutcomeCreated {
		respond(w, r, http.StatusCreated, redirectWith("/login", req.Email, noticeRegistered),
			"Registration successful! You can now sign in.")
		return
	}
	respond(w, r, http.StatusCreated, redirectWith("/verify", req.Email, noticeCodeSent),
		"Registration successful! Please check your email for the verification code.")
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.Auth.ConfirmRegistration(r.Context(), req.Email, req.Code)
	if err != nil {
		s.fail(w, r, "verify", pageVerify, req, err)
		return
	}
	respond(w, r, http.StatusCreated, redirectWith("/login", user.Email, noticeVerified), "Email successfully verified.")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess, err := s.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, "login", pageLogin, req, err)
		return
	}

	// drop whatever session the browser carried before signing in
	if prev := sessionCookie(r); prev != "" && prev != sess.ID {
		if err := s.Auth.Logout(r.Context(), prev); err != nil {
			log.Printf("login: drop previous session: %v", err)
		}
	}

	auth.SetSessionCookie(w, sess.ID, sess.ExpiresAt, s.Config.SecureCookies())
	respond(w, r, http.StatusOK, "/dashboard", "Login successful")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.Auth.Logout(r.Context(), sessionCookie(r)); err != nil {
		status, message := errorStatus("logout", err)
		if wantsJSON(r) {
			writeError(w, status, message)
			return
		}
		http.Error(w, message, status)
		return
	}
	auth.ClearSessionCookie(w, s.Config.SecureCookies())
	respond(w, r, http.StatusOK, redirectWith("/login", "", noticeLoggedOut), "Logged out")
}
