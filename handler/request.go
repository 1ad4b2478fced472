package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"support-chat/internal/usecase"
)

const maxMessageLength = 2000

const (
	errMessageRequired = "Message is required"
	errMessageEmpty    = "Message cannot be empty"
	errMessageTooLong  = "Message too long (max 2000 characters)"
	errBodyTooLarge    = "Request body too large"
	errInternal        = "Internal server error"
)

type chatRequest struct {
	Message   json.RawMessage `json:"message"`
	SessionID json.RawMessage `json:"sessionId"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type validationError struct {
	status  int
	message string
}

func (e *validationError) Error() string { return e.message }

func badRequest(msg string) *validationError {
	return &validationError{status: http.StatusBadRequest, message: msg}
}

// decodeChatRequest reads the body and applies the checks in order: message
// present and a string, non-empty after trimming, at most 2000 characters.
// The first failing check wins.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (usecase.ProcessInput, error) {
	var req chatRequest
	if r.Body != nil {
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		defer func() { _ = body.Close() }()
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return usecase.ProcessInput{}, &validationError{status: http.StatusRequestEntityTooLarge, message: errBodyTooLarge}
			}
			return usecase.ProcessInput{}, badRequest(errMessageRequired)
		}
	}

	message, ok := rawString(req.Message)
	if !ok {
		return usecase.ProcessInput{}, badRequest(errMessageRequired)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return usecase.ProcessInput{}, badRequest(errMessageEmpty)
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return usecase.ProcessInput{}, badRequest(errMessageTooLong)
	}

	return usecase.ProcessInput{Message: message, SessionID: rawSessionID(req.SessionID)}, nil
}

// rawString reports whether raw is a JSON string and returns its value.
func rawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// rawSessionID accepts a JSON string or number; anything else is treated as absent.
func rawSessionID(raw json.RawMessage) string {
	if s, ok := rawString(raw); ok {
		return s
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var n json.Number
	if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
		return ""
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}
