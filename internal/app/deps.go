package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"

	"support-chat/internal/config"
	"support-chat/internal/integrations/anthropic"
	"support-chat/internal/integrations/openai"
	"support-chat/internal/integrations/paramstore"
	"support-chat/internal/repository"
	"support-chat/internal/usecase"
)

const pingTimeout = 3 * time.Second

// newStore opens the configured backend. The returned func releases it.
func newStore(ctx context.Context, cfg config.StorageConfig, log *slog.Logger, loadAWS func() (aws.Config, error)) (repository.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := repository.NewSQLiteStore(cfg.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { closeLogged(log, st) }, nil

	case config.DriverPostgres:
		pool, err := newDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		st, err := repository.NewPostgresStore(pool, repository.WithSchema(cfg.Schema))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("store.postgres.ready", "schema", cfg.Schema, "max_conns", pool.Config().MaxConns)
		// The store does not own the pool.
		return st, pool.Close, nil

	case config.DriverDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, nil, fmt.Errorf("app: loading AWS config: %w", err)
		}
		st, err := repository.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store.dynamodb.ready", "table", cfg.Table)
		return st, func() { closeLogged(log, st) }, nil
	}
	return nil, nil, fmt.Errorf("app: unknown storage driver %q", cfg.Driver)
}

func closeLogged(log *slog.Logger, st repository.Store) {
	if err := st.Close(); err != nil {
		log.Error("store.close.fail", "err", err)
	}
}

// newDBPool builds a pgxpool and checks connectivity before returning it.
func newDBPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("app: parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: connecting to postgres: %w", err)
	}
	return pool, nil
}

// newLLMClient returns nil, with no error, when no credential is configured;
// the reply generator then answers with the unconfigured fallback.
func newLLMClient(cfg config.LLMConfig, loadAWS func() (aws.Config, error)) (usecase.LLMClient, error) {
	if !cfg.Configured() {
		return nil, nil
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithTimeout(cfg.Timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		c, err := anthropic.NewClient(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil

	case config.ProviderOpenRouter:
		opts := []openai.Option{openai.WithTimeout(cfg.Timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		} else {
			awsCfg, err := loadAWS()
			if err != nil {
				return nil, fmt.Errorf("app: loading AWS config: %w", err)
			}
			opts = append(opts, openai.WithParamStore(paramstore.NewFromConfig(awsCfg), cfg.APIKeyParam))
		}
		c, err := openai.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("app: unknown llm provider %q", cfg.Provider)
}
