package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"support-chat/internal/domain"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		sender TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
		ON messages(conversation_id);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at);
`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "driver", "sqlite")

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("repository: creating database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !inMemory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: opening database: %w", err)
	}
	if inMemory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: creating schema: %w", err)
	}

	logger.Info("store.sqlite.ready", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context) (domain.ConversationID, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (created_at) VALUES (?)`,
		formatTimestamp(nowUTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("repository: CreateConversation last insert id: %w", err)
	}
	return domain.ConversationID(id), nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	var (
		conv    domain.Conversation
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM conversations WHERE id = ?`, int64(id),
	).Scan(&conv.ID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: GetConversation: %w", err)
	}
	if conv.CreatedAt, err = parseTimestamp(created); err != nil {
		return nil, fmt.Errorf("repository: GetConversation created_at: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, conversationID domain.ConversationID, sender domain.Sender, content string) (domain.MessageID, error) {
	if !sender.Valid() {
		return 0, fmt.Errorf("repository: SaveMessage: invalid sender %q", sender)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender, content, created_at) VALUES (?, ?, ?, ?)`,
		int64(conversationID), string(sender), content, formatTimestamp(nowUTC()),
	)
	if err != nil {
		if isSQLiteForeignKeyViolation(err) {
			return 0, fmt.Errorf("repository: SaveMessage %d: %w", conversationID, ErrConversationNotFound)
		}
		return 0, fmt.Errorf("repository: SaveMessage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("repository: SaveMessage last insert id: %w", err)
	}
	return domain.MessageID(id), nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID domain.ConversationID, limit int) ([]domain.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender, content, created_at FROM (
				SELECT id, conversation_id, sender, content, created_at
				  FROM messages
				 WHERE conversation_id = ?
				 ORDER BY created_at DESC, id DESC
				 LIMIT ?
			)
			ORDER BY created_at ASC, id ASC`,
			int64(conversationID), limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender, content, created_at
			  FROM messages
			 WHERE conversation_id = ?
			 ORDER BY created_at ASC, id ASC`,
			int64(conversationID),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: GetMessages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m       domain.Message
			sender  string
			created string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("repository: GetMessages scan: %w", err)
		}
		m.Sender = domain.Sender(sender)
		if m.CreatedAt, err = parseTimestamp(created); err != nil {
			return nil, fmt.Errorf("repository: GetMessages created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: GetMessages rows: %w", err)
	}
	return msgs, nil
}

func isSQLiteForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}
