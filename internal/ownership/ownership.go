// Package ownership tracks which note ids this client profile created and
// may therefore mutate. The set is a UX convention, not a security boundary:
// it lives in a local profile database, survives reloads, and never syncs
// across devices.
package ownership

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/corkboard-app/corkboard/internal/obs"
)

// storageKey is the single string-keyed entry holding the JSON id array.
const storageKey = "corkboard.owned_notes"

// Registry holds the owned id set, persisted after every change. Persistence
// is only attempted while the set is non-empty; an empty set is never
// explicitly written, so removing the last id leaves the previous value on
// disk. That asymmetry is inherited behavior, kept on purpose.
type Registry struct {
	mu       sync.Mutex
	db       *sql.DB
	ids      map[string]struct{}
	onChange func([]string)
	log      *slog.Logger
}

// Open loads the registry from the profile database at path, creating the
// file and schema as needed. A malformed persisted value is treated as an
// empty registry and the corrupt entry is cleared.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create profile dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open profile db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS local_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate profile db: %w", err)
	}

	r := &Registry{
		db:  db,
		ids: make(map[string]struct{}),
		log: obs.Pkg("ownership"),
	}
	if err := r.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	var value string
	err := r.db.QueryRow(`SELECT value FROM local_state WHERE key = ?`, storageKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load owned notes: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		r.log.Warn("clearing malformed owned-notes entry", "error", err)
		_, _ = r.db.Exec(`DELETE FROM local_state WHERE key = ?`, storageKey)
		return nil
	}
	for _, id := range ids {
		if id != "" {
			r.ids[id] = struct{}{}
		}
	}
	return nil
}

// Close releases the profile database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// OnChange registers a callback invoked with the new id set after every
// mutation. The change-notification listener uses it to reconcile its
// subscription filter.
func (r *Registry) OnChange(fn func(ids []string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Add records id as owned. Returns false when it was already present.
func (r *Registry) Add(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	if _, exists := r.ids[id]; exists {
		r.mu.Unlock()
		return false
	}
	r.ids[id] = struct{}{}
	ids := r.idsLocked()
	fn := r.onChange
	r.saveLocked(ids)
	r.mu.Unlock()

	if fn != nil {
		fn(ids)
	}
	return true
}

// Remove forgets id. Returns false when it was not present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	if _, exists := r.ids[id]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.ids, id)
	ids := r.idsLocked()
	fn := r.onChange
	r.saveLocked(ids)
	r.mu.Unlock()

	if fn != nil {
		fn(ids)
	}
	return true
}

// Contains reports whether this client owns id.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// IDs returns the owned ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idsLocked()
}

// Len returns the number of owned ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) saveLocked(ids []string) {
	if len(ids) == 0 {
		return
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		r.log.Error("encode owned notes", "error", err)
		return
	}
	_, err = r.db.Exec(`INSERT INTO local_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, storageKey, string(payload))
	if err != nil {
		r.log.Error("persist owned notes", "error", err)
	}
}
