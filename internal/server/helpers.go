package server

import (
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"strings"

	"medibot/internal/auth"
)

const genericFailure = "Something went wrong. Please try again later."

// formRequest is the union of every field the POST endpoints read.
type formRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// decodeRequest reads a JSON body or an urlencoded/multipart form.
func decodeRequest(r *http.Request) (formRequest, error) {
	var req formRequest
	if isJSON(r.Header.Get("Content-Type")) {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		err := dec.Decode(&req)
		req.Email = strings.TrimSpace(req.Email)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Email = strings.TrimSpace(r.PostFormValue("email"))
	req.Password = r.PostFormValue("password")
	req.Code = strings.TrimSpace(r.PostFormValue("code"))
	req.NewPassword = r.PostFormValue("newPassword")
	return req, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// wantsJSON reports whether the caller is an API client rather than a browser form.
func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if isJSON(strings.TrimSpace(part)) {
			return true
		}
	}
	return isJSON(r.Header.Get("Content-Type"))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// respond finishes a successful POST: JSON clients get status and message, browsers
// are redirected to location.
func respond(w http.ResponseWriter, r *http.Request, status int, location, message string) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"message": message})
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// errorStatus maps a Manager error to a status code and a message safe to show the user.
// Storage and notification details are logged, never returned.
func errorStatus(op string, err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrAlreadyRegistered):
		return http.StatusBadRequest, "Email already registered"
	case errors.Is(err, auth.ErrInvalidOrExpiredCode):
		return http.StatusBadRequest, "Invalid or expired code"
	case errors.Is(err, auth.ErrBadCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, auth.ErrNoSuchUser):
		return http.StatusNotFound, "No account exists for this email"
	case errors.Is(err, auth.ErrConcurrentModification):
		return http.StatusConflict, "The account was changed at the same time. Please try again."
	case errors.Is(err, auth.ErrNotificationFailure):
		log.Printf("%s: %v", op, err)
		return http.StatusInternalServerError, "Could not send the email. Please try again later."
	default:
		log.Printf("%s: %v", op, err)
		return http.StatusInternalServerError, genericFailure
	}
}

// fail reports err as JSON or by re-rendering the form page the request came from.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, page pageName, req formRequest, err error) {
	status, message := errorStatus(op, err)
	if wantsJSON(r) {
		writeError(w, status, message)
		return
	}
	s.render(w, status, page, pageData{Email: req.Email, Error: message})
}
