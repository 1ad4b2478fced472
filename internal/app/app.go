// Package app wires the support-chat runtime: store, reply provider, metrics
// and the HTTP handler, plus the server lifecycle.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"support-chat/handler"
	"support-chat/internal/config"
	"support-chat/internal/metrics"
	"support-chat/internal/repository"
	"support-chat/internal/usecase"
)

type App struct {
	cfg *config.Config
	log *slog.Logger

	store      repository.Store
	closeStore func()

	metrics *metrics.Metrics
	handler *handler.Handler
}

// New builds every dependency from cfg. AWS configuration is loaded only when
// a component needs it.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if log == nil {
		log = slog.Default()
	}

	loadAWS := sync.OnceValues(func() (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})

	store, closeStore, err := newStore(ctx, cfg.Storage, log, loadAWS)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, store: store, closeStore: closeStore}
	if err := a.wire(loadAWS); err != nil {
		closeStore()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(loadAWS func() (aws.Config, error)) error {
	llm, err := newLLMClient(a.cfg.LLM, loadAWS)
	if err != nil {
		return err
	}

	replyOpts := []usecase.ReplyOption{
		usecase.WithSystemPrompt(a.cfg.LLM.SystemPrompt),
		usecase.WithReplyTimeout(a.cfg.LLM.Timeout),
		usecase.WithReplyLogger(a.log),
	}
	var handlerOpts []handler.Option
	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		replyOpts = append(replyOpts, usecase.WithReplyRecorder(a.metrics))
		handlerOpts = append(handlerOpts, handler.WithMetrics(a.metrics, a.cfg.Metrics.Path, a.metrics.Handler()))
	}

	replies, err := usecase.NewReplyGenerator(llm, a.cfg.LLM.Model, replyOpts...)
	if err != nil {
		return err
	}
	chat, err := usecase.NewChatService(a.store, replies, a.log)
	if err != nil {
		return err
	}

	handlerOpts = append(handlerOpts,
		handler.WithLogger(a.log),
		handler.WithCORS(handler.NewCORSPolicy(a.cfg.CORS.AllowedOrigins)),
	)
	a.handler, err = handler.NewHandler(chat, handlerOpts...)
	if err != nil {
		return err
	}

	a.log.Info("app.ready",
		"storage", a.cfg.Storage.Driver,
		"llm_provider", a.cfg.LLM.Provider,
		"llm_configured", llm != nil,
		"metrics", a.cfg.Metrics.Enabled,
	)
	return nil
}

func (a *App) Handler() *handler.Handler { return a.handler }

// Close releases the store. It is safe to call more than once.
func (a *App) Close() {
	if a.closeStore != nil {
		a.closeStore()
		a.closeStore = nil
	}
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains in-flight requests within
// the shutdown timeout and closes the store.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	a.log.Info("server.start", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.Close()
		return err
	}
	a.Close()

	a.log.Info("server.stopped")
	return nil
}
