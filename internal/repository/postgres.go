package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"support-chat/internal/domain"
)

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

// PostgresStore implements Store on PostgreSQL.
//
// The pool is owned by the caller; Close is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the chat tables (default: "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("repository: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("repository: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("repository: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema, tables and indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	conversations := s.table("conversations")
	messages := s.table("messages")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + conversations + ` (
			id BIGSERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES ` + conversations + `(id),
			sender TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON ` + messages + ` (conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON ` + messages + ` (conversation_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("repository: EnsureSchema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context) (domain.ConversationID, error) {
	var id int64
	if err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("conversations")+` (created_at) VALUES ($1) RETURNING id`,
		nowUTC(),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return domain.ConversationID(id), nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at FROM `+s.table("conversations")+` WHERE id = $1`,
		int64(id),
	).Scan(&conv.ID, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation: %w", err)
	}
	return &conv, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, conversationID domain.ConversationID, sender domain.Sender, content string) (domain.MessageID, error) {
	if !sender.Valid() {
		return 0, fmt.Errorf("repository: SaveMessage: invalid sender %q", sender)
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("messages")+` (conversation_id, sender, content, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		int64(conversationID), string(sender), content, nowUTC(),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return 0, fmt.Errorf("repository: SaveMessage %d: %w", conversationID, ErrConversationNotFound)
		}
		return 0, fmt.Errorf("repository: SaveMessage: %w", err)
	}
	return domain.MessageID(id), nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, conversationID domain.ConversationID, limit int) ([]domain.Message, error) {
	messages := s.table("messages")

	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, conversation_id, sender, content, created_at
			   FROM `+messages+`
			  WHERE conversation_id = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT $2`,
			int64(conversationID), limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, conversation_id, sender, content, created_at
			   FROM `+messages+`
			  WHERE conversation_id = $1
			  ORDER BY created_at ASC, id ASC`,
			int64(conversationID),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: GetMessages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m      domain.Message
			sender string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: GetMessages scan: %w", err)
		}
		m.Sender = domain.Sender(sender)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: GetMessages rows: %w", err)
	}

	if limit > 0 {
		reverseMessages(msgs)
	}
	return msgs, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}
