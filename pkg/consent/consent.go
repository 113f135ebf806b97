// Package consent implements the context-share consent timeline: an
// append-only JSONL record of every tab snapshot shared with an agent,
// plus GDPR Art. 15 export and Art. 17 erasure. Field *values* are
// never stored, only field-name inventories.
package consent

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one consent-timeline record.
type Entry struct {
	Timestamp        time.Time `json:"ts"`
	URL              string    `json:"url"`
	Origin           string    `json:"origin"`
	Actor            string    `json:"actor"`
	Fields           []string  `json:"fields"`
	Redacted         []string  `json:"redacted"`
	SelectedTextLen  int       `json:"selected_text_len"`
	Title            string    `json:"title"`
}

// Snapshot is the minimal shape of a tab-context snapshot this package
// reads from — the field-name and selected-text-length inventory, never
// values.
type Snapshot struct {
	Inputs       []map[string]any `json:"inputs"`
	SelectedText string           `json:"selected_text"`
	Title        string           `json:"title"`
}

// Log is the append-only timeline writer.
type Log struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Log {
	return &Log{path: path}
}

// LogContextShare records a share event and returns the entry written.
// origin is derived from url when empty.
func LogContextShare(l *Log, rawURL, origin string, snap Snapshot, actor string, redactedFields []string) Entry {
	if origin == "" {
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			origin = u.Scheme + "://" + u.Host
		} else {
			origin = rawURL
		}
	}

	var fields []string
	for _, in := range snap.Inputs {
		name, _ := in["name"].(string)
		if name == "" {
			name, _ = in["id"].(string)
		}
		fields = append(fields, name)
	}

	selectedLen := 0
	if snap.SelectedText != "" {
		selectedLen = len([]rune(snap.SelectedText))
	}
	if actor == "" {
		actor = "anonymous"
	}
	if redactedFields == nil {
		redactedFields = []string{}
	}
	if fields == nil {
		fields = []string{}
	}

	entry := Entry{
		Timestamp:       time.Now().UTC(),
		URL:             rawURL,
		Origin:          origin,
		Actor:           actor,
		Fields:          fields,
		Redacted:        redactedFields,
		SelectedTextLen: selectedLen,
		Title:           snap.Title,
	}
	l.append(entry)
	return entry
}

// append writes one JSON line. Failures are swallowed — consent
// logging must never block the share itself.
func (l *Log) append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if dir := filepath.Dir(l.path); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(data, '\n'))
}

func (l *Log) readLines() []string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func decodeEntry(line string) (Entry, bool) {
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

// GetTimeline returns up to limit entries, newest first, optionally
// filtered by exact origin and/or actor match.
func (l *Log) GetTimeline(origin, actor string, limit int) []Entry {
	l.mu.Lock()
	lines := l.readLines()
	l.mu.Unlock()

	var entries []Entry
	for _, line := range lines {
		e, ok := decodeEntry(line)
		if !ok {
			continue
		}
		if origin != "" && e.Origin != origin {
			continue
		}
		if actor != "" && e.Actor != actor {
			continue
		}
		entries = append(entries, e)
	}
	// newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// ClearTimeline removes entries. If origin is empty, truncates the
// whole file; otherwise rewrites the file excluding matching origin
// entries. Returns the count removed.
func (l *Log) ClearTimeline(origin string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if origin == "" {
		lines := l.readLines()
		_ = os.WriteFile(l.path, []byte{}, 0o644)
		return len(lines)
	}

	lines := l.readLines()
	var kept []string
	removed := 0
	for _, line := range lines {
		e, ok := decodeEntry(line)
		if !ok {
			kept = append(kept, line)
			continue
		}
		if e.Origin == origin {
			removed++
		} else {
			kept = append(kept, line)
		}
	}
	l.writeKept(kept)
	return removed
}

func (l *Log) writeKept(kept []string) {
	out := ""
	if len(kept) > 0 {
		out = strings.Join(kept, "\n") + "\n"
	}
	_ = os.WriteFile(l.path, []byte(out), 0o644)
}

// ExportActorData returns every entry for actor, oldest first —
// GDPR Art. 15 (right of access). Intentionally unbounded.
func (l *Log) ExportActorData(actor string) []Entry {
	l.mu.Lock()
	lines := l.readLines()
	l.mu.Unlock()

	var entries []Entry
	for _, line := range lines {
		e, ok := decodeEntry(line)
		if !ok {
			continue
		}
		if e.Actor == actor {
			entries = append(entries, e)
		}
	}
	return entries
}

// EraseActorData deletes every entry for actor — GDPR Art. 17 (right to
// erasure). Returns the count removed.
func (l *Log) EraseActorData(actor string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines := l.readLines()
	var kept []string
	removed := 0
	for _, line := range lines {
		e, ok := decodeEntry(line)
		if !ok {
			kept = append(kept, line)
			continue
		}
		if e.Actor == actor {
			removed++
		} else {
			kept = append(kept, line)
		}
	}
	l.writeKept(kept)
	return removed
}
