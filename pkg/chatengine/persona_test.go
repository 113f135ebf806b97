package chatengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonaStore_BuiltinAlwaysPresentAndImmutable(t *testing.T) {
	store := NewPersonaStore(t.TempDir())
	list := store.List()
	require.NotEmpty(t, list)
	assert.Equal(t, defaultPersonaSlug, list[0].Slug)
	assert.True(t, list[0].Builtin)
	assert.False(t, store.Delete(defaultPersonaSlug))
}

func TestPersonaStore_CreateGetDelete(t *testing.T) {
	store := NewPersonaStore(t.TempDir())
	p, err := store.Create("Research Bot", "You are a tireless researcher.", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "research-bot", p.Slug)

	got, ok := store.Get("research-bot")
	require.True(t, ok)
	assert.Equal(t, "Research Bot", got.Name)
	assert.Equal(t, "🤖", got.Avatar)

	assert.True(t, store.Delete("research-bot"))
	_, ok = store.Get("research-bot")
	assert.False(t, ok)
}

func TestPersonaStore_SlugSanitizesTraversal(t *testing.T) {
	store := NewPersonaStore(t.TempDir())
	p, err := store.Create("../../etc/passwd", "soul text", "", "", "")
	require.NoError(t, err)
	assert.NotContains(t, p.Slug, "..")
	assert.NotContains(t, p.Slug, "/")
}

func TestPersonaStore_BuildSystemPrompt_IncludesNameAndSoul(t *testing.T) {
	store := NewPersonaStore(t.TempDir())
	prompt := store.BuildSystemPrompt("intelli")
	assert.Contains(t, prompt, "Intelli")
	assert.Contains(t, prompt, "AI-native gateway assistant")
}

func TestPersonaStore_ListSortedByNameAfterBuiltin(t *testing.T) {
	store := NewPersonaStore(t.TempDir())
	_, err := store.Create("Zebra", "z", "", "", "")
	require.NoError(t, err)
	_, err = store.Create("Alpha", "a", "", "", "")
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, defaultPersonaSlug, list[0].Slug)
	assert.Equal(t, "alpha", list[1].Slug)
	assert.Equal(t, "zebra", list[2].Slug)
}
