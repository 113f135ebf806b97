package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		UsersPath:   filepath.Join(t.TempDir(), "users.json"),
		RevokedPath: filepath.Join(t.TempDir(), "revoked.json"),
	})
	require.NoError(t, err)
	return s
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.CreateUser("alice", "hunter2", []string{"user"})
	require.NoError(t, err)
	require.True(t, ok)

	res, ok, err := s.Authenticate("alice", "hunter2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	_, ok, err = s.Authenticate("alice", "wrongpass")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateUser_DuplicateRejected(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.CreateUser("alice", "p1", nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.CreateUser("alice", "p2", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUserForToken_ResolvesRolesAndAllowedTools(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser("bob", "pw", []string{"user"})
	require.NoError(t, err)
	require.True(t, s.SetUserAllowedTools("bob", []string{"fs.read"}))

	res, ok, err := s.Authenticate("bob", "pw")
	require.NoError(t, err)
	require.True(t, ok)

	id, ok := s.GetUserForToken(res.AccessToken)
	require.True(t, ok)
	assert.Equal(t, "bob", id.Username)
	assert.Equal(t, []string{"fs.read"}, id.AllowedTools)
}

func TestRevokeToken_InvalidatesImmediately(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser("carol", "pw", nil)
	require.NoError(t, err)
	res, ok, err := s.Authenticate("carol", "pw")
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, s.RevokeToken(res.AccessToken))
	_, ok = s.GetUserForToken(res.AccessToken)
	assert.False(t, ok)
}

func TestRefreshAccessToken_MintsNewAccessToken(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser("dave", "pw", nil)
	require.NoError(t, err)
	res, ok, err := s.Authenticate("dave", "pw")
	require.NoError(t, err)
	require.True(t, ok)

	at, ok, err := s.RefreshAccessToken(res.RefreshToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, at)
	assert.NotEqual(t, res.AccessToken, at)

	_, ok = s.GetUserForToken(at)
	assert.True(t, ok)
}

func TestRefreshAccessToken_RejectsRevokedRefreshToken(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser("erin", "pw", nil)
	require.NoError(t, err)
	res, ok, err := s.Authenticate("erin", "pw")
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, s.RevokeToken(res.RefreshToken))
	_, ok, err = s.RefreshAccessToken(res.RefreshToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckRole(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser("frank", "pw", []string{"admin"})
	require.NoError(t, err)
	res, ok, err := s.Authenticate("frank", "pw")
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, s.CheckRole(res.AccessToken, "admin"))
	assert.False(t, s.CheckRole(res.AccessToken, "superuser"))
}

func TestDeleteUser_ProtectsBuiltinAdmin(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureDefaultAdmin("initial-pw"))
	assert.False(t, s.DeleteUser("admin"))

	_, err := s.CreateUser("grace", "pw", nil)
	require.NoError(t, err)
	assert.True(t, s.DeleteUser("grace"))
}

func TestChangePassword_OldPasswordStopsWorking(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser("heidi", "oldpw", nil)
	require.NoError(t, err)
	ok, err := s.ChangePassword("heidi", "newpw")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Authenticate("heidi", "oldpw")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Authenticate("heidi", "newpw")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBootstrapSecretHandler_RejectsMismatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.BootstrapSecretHandler("wrong", "configured")
	require.Error(t, err)

	tok, err := s.BootstrapSecretHandler("configured", "configured")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	id, ok := s.GetUserForToken(tok)
	require.True(t, ok)
	assert.Equal(t, "admin", id.Username)
}

func TestListUsers_NeverIncludesSecrets(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateUser("ivan", "pw", []string{"user"})
	require.NoError(t, err)
	summaries := s.ListUsers()
	require.Len(t, summaries, 1)
	assert.Equal(t, "ivan", summaries[0].Username)
}
