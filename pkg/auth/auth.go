// Package auth implements password authentication and the
// access/refresh token store: PBKDF2-HMAC-SHA256 (100k iterations,
// 16-byte salt) via golang.org/x/crypto/pbkdf2, opaque URL-safe random
// tokens with in-memory expiries, and a persistent SHA-256 revocation
// set. Secrets sit behind the SecretStore interface so a keychain
// backend can replace the file-backed default without touching
// callers.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	saltLen          = 16
	accessTokenBytes = 24
	refreshTokenBytes = 36
)

// User is the persisted record for one account.
type User struct {
	Roles        []string `json:"roles"`
	Salt         string   `json:"salt,omitempty"`
	Hash         string   `json:"hash,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty"` // nil == unrestricted
}

// SecretStore persists a user's salt+hash pair. The default
// fileSecretStore keeps them inline in users.json; a keychain-backed
// implementation can satisfy the same interface for operators who want
// secrets out of the JSON file.
type SecretStore interface {
	Set(username, salt, hash string) error
	Get(username string) (salt, hash string, ok bool)
	Delete(username string)
}

type fileSecretStore struct {
	mu   sync.Mutex
	data map[string][2]string // username -> [salt, hash]
}

func newFileSecretStore() *fileSecretStore {
	return &fileSecretStore{data: make(map[string][2]string)}
}
func (s *fileSecretStore) Set(username, salt, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[username] = [2]string{salt, hash}
	return nil
}
func (s *fileSecretStore) Get(username string) (string, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[username]
	return v[0], v[1], ok
}
func (s *fileSecretStore) Delete(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, username)
}

type tokenInfo struct {
	Username string
	Expires  time.Time
}

// Store is the composed auth service: users file, secret store, and the
// in-memory access/refresh token maps plus persistent revocation set.
type Store struct {
	usersPath   string
	revokedPath string
	secrets     SecretStore

	accessExpire  time.Duration
	refreshExpire time.Duration

	mu    sync.Mutex
	users map[string]User

	tokMu    sync.Mutex
	access   map[string]tokenInfo
	refresh  map[string]tokenInfo
	revoked  map[string]time.Time // sha256 hex -> expiry
}

// Config tunes token lifetimes; zero values fall back to 1h access,
// 7d refresh.
type Config struct {
	UsersPath     string
	RevokedPath   string
	AccessExpire  time.Duration
	RefreshExpire time.Duration
	Secrets       SecretStore
}

func New(cfg Config) (*Store, error) {
	if cfg.AccessExpire <= 0 {
		cfg.AccessExpire = time.Hour
	}
	if cfg.RefreshExpire <= 0 {
		cfg.RefreshExpire = 7 * 24 * time.Hour
	}
	if cfg.Secrets == nil {
		cfg.Secrets = newFileSecretStore()
	}
	s := &Store{
		usersPath:     cfg.UsersPath,
		revokedPath:   cfg.RevokedPath,
		secrets:       cfg.Secrets,
		accessExpire:  cfg.AccessExpire,
		refreshExpire: cfg.RefreshExpire,
		users:         make(map[string]User),
		access:        make(map[string]tokenInfo),
		refresh:       make(map[string]tokenInfo),
		revoked:       make(map[string]time.Time),
	}
	if err := s.loadUsers(); err != nil {
		return nil, err
	}
	s.loadRevoked()
	return s, nil
}

func (s *Store) loadUsers() error {
	data, err := os.ReadFile(s.usersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil
	}
	var users map[string]User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil
	}
	s.users = users
	return nil
}

func (s *Store) saveUsersLocked() {
	if s.usersPath == "" {
		return
	}
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.usersPath, data, 0o644)
}

func (s *Store) loadRevoked() {
	data, err := os.ReadFile(s.revokedPath)
	if err != nil {
		return
	}
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}
	now := time.Now()
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	for h, exp := range raw {
		t := time.Unix(exp, 0)
		if t.After(now) {
			s.revoked[h] = t
		}
	}
}

// saveRevokedLocked must be called with tokMu held.
func (s *Store) saveRevokedLocked() {
	if s.revokedPath == "" {
		return
	}
	now := time.Now()
	for h, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, h)
		}
	}
	raw := make(map[string]int64, len(s.revoked))
	for h, exp := range s.revoked {
		raw[h] = exp.Unix()
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.revokedPath, data, 0o644)
}

func tokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// isRevoked checks and lazily prunes a single hash: a revocation entry
// whose own expiry has passed is treated as absent and removed.
func (s *Store) isRevoked(token string) bool {
	h := tokenHash(token)
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	exp, ok := s.revoked[h]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(s.revoked, h)
		return false
	}
	return true
}

func hashPassword(password string, salt []byte) (saltHex, hashHex string) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, sha256.Size, sha256.New)
	return hex.EncodeToString(salt), hex.EncodeToString(derived)
}

func verifyPassword(password, saltHex, hashHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, sha256.Size, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func randomSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	_, err := rand.Read(salt)
	return salt, err
}

func urlSafeToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil // hex keeps the token URL-safe without padding characters
}

// CreateUser registers username with password, storing the KDF salt/hash
// via the configured SecretStore. Returns false if username already
// exists.
func (s *Store) CreateUser(username, password string, roles []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return false, nil
	}
	salt, err := randomSalt()
	if err != nil {
		return false, err
	}
	saltHex, hashHex := hashPassword(password, salt)
	if err := s.secrets.Set(username, saltHex, hashHex); err != nil {
		return false, err
	}
	s.users[username] = User{Roles: roles}
	s.saveUsersLocked()
	return true, nil
}

// AuthResult is the pair minted on successful authentication.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
}

// Authenticate verifies username/password and, on success, mints a new
// access+refresh token pair.
func (s *Store) Authenticate(username, password string) (AuthResult, bool, error) {
	s.mu.Lock()
	_, exists := s.users[username]
	s.mu.Unlock()
	if !exists {
		return AuthResult{}, false, nil
	}
	saltHex, hashHex, ok := s.secrets.Get(username)
	if !ok {
		return AuthResult{}, false, nil
	}
	if !verifyPassword(password, saltHex, hashHex) {
		return AuthResult{}, false, nil
	}

	at, err := urlSafeToken(accessTokenBytes)
	if err != nil {
		return AuthResult{}, false, err
	}
	rt, err := urlSafeToken(refreshTokenBytes)
	if err != nil {
		return AuthResult{}, false, err
	}
	now := time.Now()
	s.tokMu.Lock()
	s.access[at] = tokenInfo{Username: username, Expires: now.Add(s.accessExpire)}
	s.refresh[rt] = tokenInfo{Username: username, Expires: now.Add(s.refreshExpire)}
	s.tokMu.Unlock()
	return AuthResult{AccessToken: at, RefreshToken: rt}, true, nil
}

// Identity is what a validated access token resolves to.
type Identity struct {
	Username     string
	Roles        []string
	AllowedTools []string // nil == unrestricted
}

// GetUserForToken validates token: checks revocation, looks up the
// access-token map, checks its own expiry, and attaches current
// roles/allowed_tools from the users file.
func (s *Store) GetUserForToken(token string) (Identity, bool) {
	if s.isRevoked(token) {
		return Identity{}, false
	}
	s.tokMu.Lock()
	info, ok := s.access[token]
	if ok && time.Now().After(info.Expires) {
		delete(s.access, token)
		ok = false
	}
	s.tokMu.Unlock()
	if !ok {
		return Identity{}, false
	}

	s.mu.Lock()
	u := s.users[info.Username]
	s.mu.Unlock()
	return Identity{Username: info.Username, Roles: u.Roles, AllowedTools: u.AllowedTools}, true
}

// RefreshAccessToken mints a new access token for a valid, unrevoked
// refresh token.
func (s *Store) RefreshAccessToken(refreshToken string) (string, bool, error) {
	if s.isRevoked(refreshToken) {
		return "", false, nil
	}
	s.tokMu.Lock()
	info, ok := s.refresh[refreshToken]
	if ok && time.Now().After(info.Expires) {
		delete(s.refresh, refreshToken)
		ok = false
	}
	s.tokMu.Unlock()
	if !ok {
		return "", false, nil
	}

	at, err := urlSafeToken(accessTokenBytes)
	if err != nil {
		return "", false, err
	}
	s.tokMu.Lock()
	s.access[at] = tokenInfo{Username: info.Username, Expires: time.Now().Add(s.accessExpire)}
	s.tokMu.Unlock()
	return at, true, nil
}

// RevokeToken removes token from the live maps (if present) and always
// adds its hash to the persistent revocation set with an expiry — the
// token's own remaining lifetime if known, else the worst-case refresh
// lifetime.
func (s *Store) RevokeToken(token string) bool {
	var expiry time.Time
	removed := false

	s.tokMu.Lock()
	if info, ok := s.access[token]; ok {
		expiry = info.Expires
		delete(s.access, token)
		removed = true
	}
	if info, ok := s.refresh[token]; ok {
		if info.Expires.After(expiry) {
			expiry = info.Expires
		}
		delete(s.refresh, token)
		removed = true
	}
	if expiry.IsZero() {
		expiry = time.Now().Add(s.refreshExpire)
	}
	s.revoked[tokenHash(token)] = expiry
	s.saveRevokedLocked()
	s.tokMu.Unlock()
	return removed
}

// CheckRole reports whether token's identity carries role.
func (s *Store) CheckRole(token, role string) bool {
	id, ok := s.GetUserForToken(token)
	if !ok {
		return false
	}
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SetUserAllowedTools persists a per-user tool allow-list; a nil or
// empty list removes any restriction.
func (s *Store) SetUserAllowedTools(username string, tools []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return false
	}
	if len(tools) == 0 {
		u.AllowedTools = nil
	} else {
		u.AllowedTools = tools
	}
	s.users[username] = u
	s.saveUsersLocked()
	return true
}

// ListUsers returns public summaries (no secrets).
type UserSummary struct {
	Username            string `json:"username"`
	Roles               []string `json:"roles"`
	HasToolRestrictions bool   `json:"has_tool_restrictions"`
}

func (s *Store) ListUsers() []UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserSummary, 0, len(s.users))
	for name, u := range s.users {
		out = append(out, UserSummary{Username: name, Roles: u.Roles, HasToolRestrictions: len(u.AllowedTools) > 0})
	}
	return out
}

// DeleteUser removes username permanently. The built-in "admin" account
// cannot be deleted via this path.
func (s *Store) DeleteUser(username string) bool {
	if username == "admin" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return false
	}
	delete(s.users, username)
	s.saveUsersLocked()
	s.secrets.Delete(username)
	return true
}

// ChangePassword sets a new password for an existing user.
func (s *Store) ChangePassword(username, newPassword string) (bool, error) {
	s.mu.Lock()
	_, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	salt, err := randomSalt()
	if err != nil {
		return false, err
	}
	saltHex, hashHex := hashPassword(newPassword, salt)
	if err := s.secrets.Set(username, saltHex, hashHex); err != nil {
		return false, err
	}
	return true, nil
}

// EnsureDefaultAdmin creates the "admin" account from password if it
// does not already exist — the first-run setup path.
func (s *Store) EnsureDefaultAdmin(password string) error {
	if password == "" {
		return nil
	}
	s.mu.Lock()
	_, exists := s.users["admin"]
	s.mu.Unlock()
	if exists {
		return nil
	}
	_, err := s.CreateUser("admin", password, []string{"admin"})
	return err
}

// BootstrapSecretHandler mints a long-lived admin token when the caller
// proves possession of a one-time secret passed via env — used by an
// embedding shell to obtain credentials without interactive login.
func (s *Store) BootstrapSecretHandler(providedSecret, configuredSecret string) (string, error) {
	if configuredSecret == "" || subtle.ConstantTimeCompare([]byte(providedSecret), []byte(configuredSecret)) != 1 {
		return "", fmt.Errorf("auth: bootstrap secret mismatch")
	}
	at, err := urlSafeToken(accessTokenBytes)
	if err != nil {
		return "", err
	}
	s.tokMu.Lock()
	s.access[at] = tokenInfo{Username: "admin", Expires: time.Now().Add(365 * 24 * time.Hour)}
	s.tokMu.Unlock()
	return at, nil
}
