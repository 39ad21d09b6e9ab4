package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
)

// StatusError is an error that carries the HTTP status it should be
// reported with. Message is safe to show to clients.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StatusError) Unwrap() error { return e.Err }

// Errorf returns a *StatusError with the given code and client message,
// wrapping err.
func Errorf(code int, message string, err error) *StatusError {
	return &StatusError{Code: code, Message: message, Err: err}
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteStatusError reports err using its StatusError code and message if it
// has one, or a generic 500 otherwise.
func WriteStatusError(w http.ResponseWriter, err error) {
	var se *StatusError
	if errors.As(err, &se) {
		WriteError(w, se.Code, se.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal error")
}
