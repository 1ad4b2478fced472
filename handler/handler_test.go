package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"support-chat/internal/usecase"
)

type stubChat struct {
	mu    sync.Mutex
	out   usecase.ProcessOutput
	err   error
	in    usecase.ProcessInput
	calls int
}

func (s *stubChat) ProcessMessage(_ context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = in
	s.calls++
	return s.out, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T, chat ChatProcessor, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(chat, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return h
}

func postMessage(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubChat{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", parseBody[healthResponse](t, rec.Body.String()).Status)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestChatMessage_HappyPath(t *testing.T) {
	chat := &stubChat{out: usecase.ProcessOutput{Reply: "We ship worldwide.", SessionID: "7"}}
	h := newTestHandler(t, chat)

	rec := postMessage(t, h, `{"message":"  Do you ship to Canada?  ","sessionId":"7"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, usecase.ProcessInput{Message: "Do you ship to Canada?", SessionID: "7"}, chat.in)

	out := parseBody[chatResponse](t, rec.Body.String())
	require.Equal(t, "We ship worldwide.", out.Reply)
	require.Equal(t, "7", out.SessionID)
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestChatMessage_DegradedReplyStillSucceeds(t *testing.T) {
	chat := &stubChat{out: usecase.ProcessOutput{Reply: usecase.FallbackFailed, SessionID: "3", Degraded: true}}
	h := newTestHandler(t, chat)

	rec := postMessage(t, h, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, usecase.FallbackFailed, parseBody[chatResponse](t, rec.Body.String()).Reply)
}

func TestChatMessage_SessionIDForms(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"absent", `{"message":"hi"}`, ""},
		{"null", `{"message":"hi","sessionId":null}`, ""},
		{"string", `{"message":"hi","sessionId":"42"}`, "42"},
		{"number", `{"message":"hi","sessionId":42}`, "42"},
		{"garbage string", `{"message":"hi","sessionId":"abc"}`, "abc"},
		{"object", `{"message":"hi","sessionId":{"id":1}}`, ""},
		{"bool", `{"message":"hi","sessionId":true}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chat := &stubChat{out: usecase.ProcessOutput{Reply: "ok", SessionID: "1"}}
			h := newTestHandler(t, chat)

			rec := postMessage(t, h, tc.body)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tc.want, chat.in.SessionID)
		})
	}
}

func TestChatMessage_Validation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing message", `{"sessionId":"1"}`, "Message is required"},
		{"null message", `{"message":null}`, "Message is required"},
		{"numeric message", `{"message":42}`, "Message is required"},
		{"array message", `{"message":["hi"]}`, "Message is required"},
		{"not json", `not-json`, "Message is required"},
		{"empty body", ``, "Message is required"},
		{"empty string", `{"message":""}`, "Message cannot be empty"},
		{"whitespace only", `{"message":"   \n\t "}`, "Message cannot be empty"},
		{"too long", `{"message":"` + strings.Repeat("a", 2001) + `"}`, "Message too long (max 2000 characters)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chat := &stubChat{}
			h := newTestHandler(t, chat)

			rec := postMessage(t, h, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tc.wantErr, parseBody[errorResponse](t, rec.Body.String()).Error)
			require.Zero(t, chat.calls, "invalid input never reaches the orchestrator")
		})
	}
}

func TestChatMessage_LengthBoundary(t *testing.T) {
	chat := &stubChat{out: usecase.ProcessOutput{Reply: "ok", SessionID: "1"}}
	h := newTestHandler(t, chat)

	exact := strings.Repeat("é", 2000)
	rec := postMessage(t, h, `{"message":"`+exact+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, exact, chat.in.Message)

	padded := "  " + strings.Repeat("b", 2000) + "  "
	rec = postMessage(t, h, `{"message":"`+padded+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, "length is measured after trimming")
}

func TestChatMessage_BodyTooLarge(t *testing.T) {
	chat := &stubChat{}
	h := newTestHandler(t, chat)

	rec := postMessage(t, h, `{"message":"`+strings.Repeat("x", maxBodyBytes+1)+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Zero(t, chat.calls)
}

func TestChatMessage_MapsErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		wantErr string
	}{
		{"invalid input", &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, http.StatusBadRequest, "Message cannot be empty"},
		{"store failure", &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_save_user_message_error", Err: errors.New("disk I/O error")}, http.StatusInternalServerError, "Internal server error"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubChat{err: tc.err})

			rec := postMessage(t, h, `{"message":"hi"}`)
			require.Equal(t, tc.status, rec.Code)
			body := rec.Body.String()
			require.Equal(t, tc.wantErr, parseBody[errorResponse](t, body).Error)
			require.NotContains(t, body, "disk I/O")
		})
	}
}

func TestRoutes_UnknownPath(t *testing.T) {
	h := newTestHandler(t, &stubChat{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	h := newTestHandler(t, &stubChat{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestCorrelationID_Propagated(t *testing.T) {
	h := newTestHandler(t, &stubChat{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("x-correlation-id", "corr-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "corr-123", rec.Header().Get("X-Correlation-Id"))
}

type httpObservation struct {
	route  string
	status int
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []httpObservation
}

func (o *recordingObserver) ObserveHTTP(route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, httpObservation{route: route, status: status})
}

func TestMetrics_ObservesRoutesAndServesExposition(t *testing.T) {
	obs := &recordingObserver{}
	exposition := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metric 1\n")
	})
	h := newTestHandler(t, &stubChat{out: usecase.ProcessOutput{Reply: "ok", SessionID: "1"}},
		WithMetrics(obs, "/metrics", exposition))

	postMessage(t, h, `{"message":"hi"}`)
	postMessage(t, h, `{}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "metric 1\n", rec.Body.String())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-admin", nil))

	require.Equal(t, []httpObservation{
		{"/chat/message", http.StatusOK},
		{"/chat/message", http.StatusBadRequest},
		{"/metrics", http.StatusOK},
		{"other", http.StatusNotFound},
	}, obs.seen)
}
