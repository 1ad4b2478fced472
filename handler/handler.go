// Package handler is the HTTP boundary of the chat service: request
// validation, response mapping, CORS, and the Lambda adapter.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"support-chat/internal/usecase"
)

const (
	routeHealth      = "/health"
	routeChatMessage = "/chat/message"

	maxBodyBytes = 64 << 10
)

type ChatProcessor interface {
	ProcessMessage(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error)
}

// HTTPObserver records finished requests.
type HTTPObserver interface {
	ObserveHTTP(route string, status int, elapsed time.Duration)
}

type Handler struct {
	chat   ChatProcessor
	logger *slog.Logger
	cors   *CORSPolicy

	observer    HTTPObserver
	metricsPath string
	metricsHTTP http.Handler

	routes http.Handler
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCORS sets the cross-origin policy. Without it only the dev origins are allowed.
func WithCORS(policy *CORSPolicy) Option {
	return func(h *Handler) {
		if policy != nil {
			h.cors = policy
		}
	}
}

// WithMetrics records per-route request metrics and, when exposition is
// non-nil, serves it at path.
func WithMetrics(observer HTTPObserver, path string, exposition http.Handler) Option {
	return func(h *Handler) {
		h.observer = observer
		h.metricsPath = path
		h.metricsHTTP = exposition
	}
}

func NewHandler(chat ChatProcessor, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat processor must not be nil")
	}
	h := &Handler{
		chat:   chat,
		logger: slog.Default(),
		cors:   NewCORSPolicy(nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes = h.buildRoutes()
	return h, nil
}

// ServeHTTP serves every route through the full middleware chain.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.routes.ServeHTTP(w, r)
}

func (h *Handler) buildRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+routeHealth, h.handleHealth)
	mux.HandleFunc("POST "+routeChatMessage, h.handleChatMessage)
	if h.metricsHTTP != nil && h.metricsPath != "" {
		mux.Handle("GET "+h.metricsPath, h.metricsHTTP)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	var next http.Handler = mux
	next = WithCORSPolicy(next, h.cors, h.logger)
	next = WithSecurityHeaders(next)
	next = h.withMetrics(next)
	next = WithRequestLogging(next, h.logger)
	next = WithCorrelationID(next)
	return next
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *Handler) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	in, err := decodeChatRequest(w, r)
	if err != nil {
		var ve *validationError
		if errors.As(err, &ve) {
			writeError(w, ve.status, ve.message)
			return
		}
		writeError(w, http.StatusBadRequest, errMessageRequired)
		return
	}

	out, err := h.chat.ProcessMessage(r.Context(), in)
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorInvalidInput {
			writeError(w, http.StatusBadRequest, errMessageEmpty)
			return
		}
		h.logger.ErrorContext(r.Context(), "chat.message.failed",
			"correlation_id", CorrelationID(r.Context()),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Reply: out.Reply, SessionID: out.SessionID})
}

func (h *Handler) withMetrics(next http.Handler) http.Handler {
	if h.observer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.observer.ObserveHTTP(h.routeLabel(r.URL.Path), sw.status, time.Since(start))
	})
}

// routeLabel keeps metric cardinality bounded to the known routes.
func (h *Handler) routeLabel(path string) string {
	switch path {
	case routeHealth, routeChatMessage:
		return path
	case h.metricsPath:
		if h.metricsHTTP != nil {
			return path
		}
	}
	return "other"
}
