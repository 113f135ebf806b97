// Package capability loads per-tool manifests from disk and answers
// allow-set / allowed-argument-key questions for the supervisor pipeline.
//
// Manifests are individual JSON documents under a manifest directory,
// loaded lazily and cached by tool id.
package capability

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
)

// WildcardCapability disables the arg-key guard entirely when present in
// the boot-time allow-set.
const WildcardCapability = "ALL"

// Manifest is the per-tool contract loaded from <manifest_dir>/<tool-with-/>.json.
type Manifest struct {
	Tool             string            `json:"tool"`
	DisplayName      string            `json:"display_name"`
	Description      string            `json:"description"`
	Required         []string          `json:"required"`
	Optional         []string          `json:"optional"`
	RiskLevel        tooltype.RiskLevel `json:"risk_level"`
	RequiresApproval *bool             `json:"requires_approval"`
	AllowedArgKeys   []string          `json:"allowed_arg_keys"` // nil/absent == unrestricted
}

// defaultAllowSet covers read-only capabilities so a freshly-installed
// gateway is safe by construction.
var defaultAllowSet = []string{"fs.read", "browser.dom"}

// Registry is the lazily-populated, cached-by-tool-id manifest store.
type Registry struct {
	mu        sync.RWMutex
	dir       string
	cache     map[string]*Manifest // tool -> manifest (may be nil sentinel meaning "no manifest")
	allowSet  map[string]bool
}

// NewRegistry builds a Registry rooted at manifestDir, with the allow-set
// derived from allowSetEnv: either a comma-separated capability list or
// the sentinel "ALL". An empty string falls back to the read-only default.
func NewRegistry(manifestDir string, allowSetEnv string) *Registry {
	r := &Registry{
		dir:      manifestDir,
		cache:    make(map[string]*Manifest),
		allowSet: make(map[string]bool),
	}
	trimmed := strings.TrimSpace(allowSetEnv)
	switch {
	case trimmed == "":
		for _, c := range defaultAllowSet {
			r.allowSet[c] = true
		}
	case trimmed == WildcardCapability:
		r.allowSet[WildcardCapability] = true
	default:
		for _, c := range strings.Split(trimmed, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				r.allowSet[c] = true
			}
		}
	}
	return r
}

// manifestPath maps a tool id ("file.read") to its on-disk path
// (<dir>/file/read.json), following the supervisor's `.` -> `/` rule.
func (r *Registry) manifestPath(tool string) string {
	return filepath.Join(r.dir, strings.ReplaceAll(tool, ".", string(filepath.Separator))+".json")
}

// Get returns the manifest for tool, loading and caching it on first
// access. A missing manifest is cached as "not found" (nil, false) so a
// hot directory without the file doesn't hit the filesystem every call.
func (r *Registry) Get(tool string) (*Manifest, bool) {
	r.mu.RLock()
	m, ok := r.cache[tool]
	r.mu.RUnlock()
	if ok {
		return m, m != nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache[tool]; ok {
		return m, m != nil
	}

	data, err := os.ReadFile(r.manifestPath(tool))
	if err != nil {
		r.cache[tool] = nil
		return nil, false
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		r.cache[tool] = nil
		return nil, false
	}
	if man.Tool == "" {
		man.Tool = tool
	}
	r.cache[tool] = &man
	return &man, true
}

// Reload drops the cache so the next Get re-reads from disk. Reload is
// always explicit — an admin endpoint or the manifest-dir watcher —
// never an ambient per-call stat.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Manifest)
}

// Check answers the capability-check step of the pipeline: if a manifest
// exists and declares a required set not covered by the allow-set, the
// call is denied with the missing capability list. Tools without a
// manifest always pass capability check (risk scoring still applies).
func (r *Registry) Check(tool string, args map[string]any) (allowed bool, denied []string) {
	man, ok := r.Get(tool)
	if !ok {
		return true, nil
	}

	var missing []string
	for _, cap := range man.Required {
		if !r.hasCapability(cap) {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		return false, missing
	}

	if r.hasCapability(WildcardCapability) {
		return true, nil
	}
	if len(man.AllowedArgKeys) == 0 {
		return true, nil
	}
	allowedKeys := make(map[string]bool, len(man.AllowedArgKeys))
	for _, k := range man.AllowedArgKeys {
		allowedKeys[k] = true
	}
	var extra []string
	for k := range args {
		if !allowedKeys[k] {
			extra = append(extra, fmt.Sprintf("arg_keys_not_allowed:%s", k))
		}
	}
	if len(extra) > 0 {
		return false, extra
	}
	return true, nil
}

func (r *Registry) hasCapability(cap string) bool {
	return r.allowSet[cap] || r.allowSet[WildcardCapability]
}

// RequiresApproval implements the authoritative-manifest-overrides-heuristic
// rule from section 4.1: when a manifest exists its RequiresApproval wins;
// otherwise the caller (the supervisor) falls back to the heuristic.
func (r *Registry) RequiresApproval(tool string) (explicit bool, required bool) {
	man, ok := r.Get(tool)
	if !ok || man.RequiresApproval == nil {
		return false, false
	}
	return true, *man.RequiresApproval
}

// RegisterManifest installs an in-memory manifest, used for plugin and
// MCP tools whose contracts arrive via plugin.yaml rather than the
// manifest directory. It overrides any on-disk manifest of the same
// tool id until the next Reload.
func (r *Registry) RegisterManifest(man *Manifest) {
	if man == nil || man.Tool == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[man.Tool] = man
}

// AllowSet returns the boot-time capability allow-set, sorted.
func (r *Registry) AllowSet() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.allowSet))
	for c := range r.allowSet {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// KnownTools returns every tool id with a cached manifest plus every
// manifest file under the directory tree, for capability listings and
// unknown-tool suggestions.
func (r *Registry) KnownTools() []string {
	seen := make(map[string]bool)
	r.mu.RLock()
	for tool, man := range r.cache {
		if man != nil {
			seen[tool] = true
		}
	}
	r.mu.RUnlock()

	_ = filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return nil
		}
		tool := strings.ReplaceAll(strings.TrimSuffix(rel, ".json"), string(filepath.Separator), ".")
		seen[tool] = true
		return nil
	})

	out := make([]string, 0, len(seen))
	for tool := range seen {
		out = append(out, tool)
	}
	sort.Strings(out)
	return out
}

// Suggest returns the known tool id closest to tool by edit distance,
// or "" when nothing is within a distance of 3. Backs the "did you
// mean" hint on unknown-tool lookups.
func (r *Registry) Suggest(tool string, extra []string) string {
	best := ""
	bestDist := 4
	candidates := append(r.KnownTools(), extra...)
	for _, known := range candidates {
		if known == tool {
			continue
		}
		if d := editDistance(tool, known); d < bestDist {
			best = known
			bestDist = d
		}
	}
	return best
}

func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
