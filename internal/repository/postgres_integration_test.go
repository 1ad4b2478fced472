package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"support-chat/internal/domain"
)

// Integration tests run only when SUPPORT_CHAT_TEST_DATABASE_URL is set.

func TestPostgresStore_ConversationLifecycle(t *testing.T) {
	store := mustNewTestPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id, err := store.CreateConversation(ctx)
	require.NoError(t, err)
	require.Positive(t, int64(id))

	conv, err := store.GetConversation(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.Equal(t, id, conv.ID)

	missing, err := store.GetConversation(ctx, id+1000)
	require.NoError(t, err)
	require.Nil(t, missing)

	_, err = store.SaveMessage(ctx, id+1000, domain.SenderUser, "orphan")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestPostgresStore_GetMessages_Window(t *testing.T) {
	store := mustNewTestPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	id, err := store.CreateConversation(ctx)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		sender := domain.SenderUser
		if i%2 == 1 {
			sender = domain.SenderAI
		}
		_, err := store.SaveMessage(ctx, id, sender, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	all, err := store.GetMessages(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, all, 12)
	require.Equal(t, "m0", all[0].Content)
	require.Equal(t, domain.SenderAI, all[1].Sender)

	window, err := store.GetMessages(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, window, 10)
	require.Equal(t, "m2", window[0].Content)
	require.Equal(t, "m11", window[9].Content)
}

func TestWithSchema_RejectsInvalidIdentifiers(t *testing.T) {
	st := &PostgresStore{}
	require.Error(t, WithSchema("")(st))
	require.Error(t, WithSchema("bad-schema")(st))
	require.Error(t, WithSchema("1abc")(st))
	require.NoError(t, WithSchema("support_chat")(st))
	require.Equal(t, "support_chat", st.schema)
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	_, err := NewPostgresStore(nil)
	require.Error(t, err)
}

func mustNewTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("SUPPORT_CHAT_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: SUPPORT_CHAT_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	schema := "support_chat_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		pool.Close()
	})

	store, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}
