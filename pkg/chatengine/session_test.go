package chatengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_NewAndGet(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	require.NoError(t, err)

	sess, err := store.New("intelli")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "intelli", got.Persona)
}

func TestSessionStore_AppendTurnsTrimsToMax(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	require.NoError(t, err)
	sess, err := store.New("")
	require.NoError(t, err)

	for i := 0; i < maxSessionTurns+10; i++ {
		store.AppendTurns(sess.ID, SessionTurn{Role: "user", Content: "msg"})
	}

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Len(t, got.Turns, maxSessionTurns)
}

func TestSessionStore_GetUnknownIDReturnsFalse(t *testing.T) {
	store, err := NewSessionStore(t.TempDir())
	require.NoError(t, err)
	_, ok := store.Get("does-not-exist")
	assert.False(t, ok)
}
