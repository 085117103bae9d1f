package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globetrotter-labs/travel-assistant/internal/domain"
	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore("redis://"+mr.Addr(), time.Hour, 20, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestCreateAndGetRoundTrips(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGreeting, sess.State.Status)

	loaded, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "user-1", loaded.UserID)
}

func TestGetMissingSessionReturnsNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, travelerrors.Is(err, travelerrors.KindInvalidInput))
	assert.ErrorIs(t, err, travelerrors.ErrSessionNotFound)
}

func TestAppendMessageSlidingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore("redis://"+mr.Addr(), time.Hour, 3, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	sess, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, sess, domain.Message{
			Role:    domain.RoleUser,
			Content: "message",
		}))
	}

	loaded, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 3)
}

func TestLockIsPerSession(t *testing.T) {
	store := setupTestStore(t)

	l1 := store.Lock("a")
	l2 := store.Lock("a")
	l3 := store.Lock("b")

	assert.Same(t, l1, l2)
	assert.NotSame(t, l1, l3)
}

func TestTerminalSessionHasNoTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewStore("redis://"+mr.Addr(), time.Millisecond, 20, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	sess, err := store.Create(ctx, "user-1")
	require.NoError(t, err)

	sess.Terminal = true
	sess.State.Status = domain.StatusBound
	require.NoError(t, store.Save(ctx, sess))

	mr.FastForward(time.Second)

	loaded, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Terminal)
}
