package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("x", "one"))
	assert.Error(t, r.Register("x", "two"))

	// Put overwrites unconditionally.
	r.Put("x", "two")
	v, _ := r.Get("x")
	assert.Equal(t, "two", v)
}

func TestNamesAndCount(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("zeta", 1))
	require.NoError(t, r.Register("alpha", 2))

	assert.ElementsMatch(t, []string{"alpha", "zeta"}, r.Names())
	assert.Equal(t, 2, r.Count())
}

func TestRemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))

	require.NoError(t, r.Register("b", 2))
	r.Clear()
	assert.Equal(t, 0, r.Count())
}
