package chatengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UrHighness01/Intelli-sub000/pkg/provider"
)

// maxSessionTurns bounds the per-session history kept on disk.
const maxSessionTurns = 50

// SessionTurn is one recorded message in a session's rolling history.
type SessionTurn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is the lightweight per-conversation index persisted to disk:
// identity, persona, and the last N turns. Persistence is best-effort
// and eventually consistent with the streamed session_id.
type Session struct {
	ID        string        `json:"id"`
	Persona   string        `json:"persona,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Turns     []SessionTurn `json:"turns"`
}

// SessionStore persists one JSON file per session under dir.
type SessionStore struct {
	mu  sync.Mutex
	dir string
}

func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SessionStore{dir: dir}, nil
}

func (s *SessionStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// New creates and persists a fresh session, returning its id.
func (s *SessionStore) New(persona string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess := &Session{ID: uuid.NewString(), Persona: persona, CreatedAt: now, UpdatedAt: now}
	return sess, s.saveLocked(sess)
}

// Get loads a session by id, or (nil, false) if it doesn't exist.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, false
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, false
	}
	return &sess, true
}

func (s *SessionStore) saveLocked(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(sess.ID), data, 0o644)
}

// AppendTurns records new messages onto a session's rolling history,
// trimmed to maxSessionTurns, and is looked up best-effort after
// streaming — a failure here never fails the chat request (DESIGN
// NOTES section 9's resolved Open Question: session persistence is
// fire-and-forget relative to the response already sent).
func (s *SessionStore) AppendTurns(id string, turns ...SessionTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(id))
	var sess Session
	if err != nil || json.Unmarshal(data, &sess) != nil {
		sess = Session{ID: id, CreatedAt: time.Now()}
	}
	sess.Turns = append(sess.Turns, turns...)
	if len(sess.Turns) > maxSessionTurns {
		sess.Turns = sess.Turns[len(sess.Turns)-maxSessionTurns:]
	}
	sess.UpdatedAt = time.Now()
	_ = s.saveLocked(&sess)
}

// TurnsFromMessages converts provider.Message history into SessionTurn
// records stamped with now.
func TurnsFromMessages(msgs []provider.Message, now time.Time) []SessionTurn {
	out := make([]SessionTurn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, SessionTurn{Role: m.Role, Content: m.Content, At: now})
	}
	return out
}
