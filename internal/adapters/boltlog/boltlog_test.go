package boltlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"chat-notifications/internal/domain/notify"
)

func openTemp(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal", "notify.bbolt")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func push(id notify.NotificationID, sender string) notify.LogRecord {
	return notify.LogRecord{
		ID:      id,
		Group:   3,
		Type:    notify.GroupMessages,
		Dialog:  42,
		Date:    1_700_000_000,
		Payload: notify.PushMessagePayload{Message: notify.MessageID(id) * 10, SenderName: sender},
	}
}

func TestAppendRewriteErase(t *testing.T) {
	t.Parallel()

	l, _ := openTemp(t)
	ctx := t.Context()

	h1, err := l.Append(ctx, push(1, "Alice"))
	require.NoError(t, err)
	h2, err := l.Append(ctx, push(2, "Bob"))
	require.NoError(t, err)
	require.Less(t, h1, h2)

	require.NoError(t, l.Rewrite(ctx, h1, push(1, "Carol")))
	require.NoError(t, l.Erase(ctx, h2))
	require.NoError(t, l.Erase(ctx, h2), "erasing twice is harmless")

	got, err := l.ReplayAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, h1, got[0].Handle)
	require.Equal(t, push(1, "Carol"), got[0].Record)

	require.ErrorIs(t, l.Rewrite(ctx, h2, push(2, "Dan")), ErrRecordNotFound)
}

func TestRecordsSurviveReopen(t *testing.T) {
	t.Parallel()

	l, path := openTemp(t)
	h, err := l.Append(t.Context(), push(5, "Alice"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReplayAll(t.Context())
	require.NoError(t, err)
	require.Equal(t, []notify.LoggedRecord{{Handle: h, Record: push(5, "Alice")}}, got)

	next, err := reopened.Append(t.Context(), push(6, "Bob"))
	require.NoError(t, err)
	require.Greater(t, next, h, "handles are never reused")
}

func TestReplayDropsUnreadableRecords(t *testing.T) {
	t.Parallel()

	l, _ := openTemp(t)
	good, err := l.Append(t.Context(), push(1, "Alice"))
	require.NoError(t, err)
	require.NoError(t, l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Put(handleKey(99), []byte(`{"payload":{"kind":"sticker"}}`))
	}))

	got, err := l.ReplayAll(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, good, got[0].Handle)

	require.NoError(t, l.db.View(func(tx *bbolt.Tx) error {
		require.Nil(t, tx.Bucket(recordsBucket).Get(handleKey(99)))
		return nil
	}))
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	l, _ := openTemp(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := l.Append(ctx, push(1, "Alice"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := Open("  ")
	require.Error(t, err)
}
