package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"medibot/internal/auth"
)

type pageName string

const (
	pageIndex       pageName = "index"
	pageLogin       pageName = "login"
	pageRegister    pageName = "register"
	pageVerify      pageName = "verify"
	pageReset       pageName = "reset"
	pageNewPassword pageName = "newpass"
	pageDashboard   pageName = "dashboard"
)

var allPages = []pageName{pageIndex, pageLogin, pageRegister, pageVerify, pageReset, pageNewPassword, pageDashboard}

//go:embed templates/*.html
var templateFS embed.FS

type pageSet map[pageName]*template.Template

type pageData struct {
	Email  string
	Error  string
	Notice string
	User   *auth.User
	Flags  []flagRow
}

type flagRow struct {
	Label    string
	Reported bool
}

func loadPages() (pageSet, error) {
	pages := make(pageSet, len(allPages))
	for _, name := range allPages {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("parse %s page: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

func (s *Server) render(w http.ResponseWriter, status int, name pageName, data pageData) {
	tmpl, ok := s.pages[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("render %s: %v", name, err)
		http.Error(w, genericFailure, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// handlePage serves a form page. ?email= and ?notice= prefill it after a redirect.
func (s *Server) handlePage(name pageName) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.render(w, http.StatusOK, name, pageData{
			Email:  q.Get("email"),
			Notice: noticeText(q.Get("notice")),
		})
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	user, err := s.Auth.User(r.Context(), sess.Email)
	if err != nil {
		log.Printf("dashboard: %v", err)
		http.Error(w, genericFailure, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"email":   user.Email,
			"profile": user.Profile,
		})
		return
	}
	s.render(w, http.StatusOK, pageDashboard, pageData{
		Email: user.Email,
		User:  user,
		Flags: profileFlags(user.Profile),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func profileFlags(p auth.Profile) []flagRow {
	return []flagRow{
		{Label: "Diabetes", Reported: p.Diabetes == auth.FlagYes},
		{Label: "Hypertension", Reported: p.Hypertension == auth.FlagYes},
		{Label: "Heart disease", Reported: p.HeartDisease == auth.FlagYes},
		{Label: "Asthma", Reported: p.Asthma == auth.FlagYes},
		{Label: "Allergies", Reported: p.Allergies == auth.FlagYes},
		{Label: "Smoker", Reported: p.Smoker == auth.FlagYes},
		{Label: "Alcohol", Reported: p.Alcohol == auth.FlagYes},
	}
}

const (
	noticeCodeSent      = "code-sent"
	noticeRegistered    = "registered"
	noticeVerified      = "verified"
	noticePasswordReset = "password-reset"
	noticeLoggedOut     = "logged-out"
)

func noticeText(key string) string {
	switch key {
	case noticeCodeSent:
		return "We emailed you a 6-digit code."
	case noticeRegistered:
		return "Your account was created. You can now sign in."
	case noticeVerified:
		return "Your email is verified. You can now sign in."
	case noticePasswordReset:
		return "Your password was changed. Please sign in again."
	case noticeLoggedOut:
		return "You have been signed out."
	default:
		return ""
	}
}
