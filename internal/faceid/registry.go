package faceid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

var (
	ErrInvalidName = errors.New("faceid: invalid name")
	ErrNoEmbedding = errors.New("faceid: empty embedding")
)

// Identity is one enrolled face. Label is "<card uid>_<name>".
type Identity struct {
	Label     string    `json:"label"`
	CardID    string    `json:"card_id"`
	Name      string    `json:"name"`
	Embedding []float64 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Label builds the identity label for a card and name.
func Label(cardID, name string) string { return cardID + "_" + name }

// NameFromLabel strips the "<card uid>_" prefix.
func NameFromLabel(label, cardID string) string {
	return strings.TrimPrefix(label, cardID+"_")
}

// Registry is the set of enrolled identities, backed by one JSON file per
// identity in dir.
type Registry struct {
	dir    string
	logger *logging.Logger

	mu  sync.RWMutex
	ids []Identity
}

func NewRegistry(dir string, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{dir: dir, logger: logger}
}

func (r *Registry) Dir() string { return r.dir }

// Load replaces the in-memory set with the records found in dir. Files
// that fail to parse are skipped with a warning.
func (r *Registry) Load() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("faceid: mkdir %s: %w", r.dir, err)
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("faceid: read dir: %w", err)
	}

	var ids []Identity
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warnf("faceid: skipped %s: %v", e.Name(), err)
			continue
		}
		var id Identity
		if err := json.Unmarshal(b, &id); err != nil {
			r.logger.Warnf("faceid: skipped %s: %v", e.Name(), err)
			continue
		}
		if len(id.Embedding) == 0 {
			r.logger.Warnf("faceid: skipped %s: no embedding", e.Name())
			continue
		}
		if id.Label == "" {
			id.Label = strings.TrimSuffix(e.Name(), ".json")
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Label < ids[j].Label })

	r.mu.Lock()
	r.ids = ids
	r.mu.Unlock()
	r.logger.Infof("faceid: loaded %d identities", len(ids))
	return nil
}

// HasCard reports whether any identity is enrolled for cardID.
func (r *Registry) HasCard(cardID string) bool {
	prefix := cardID + "_"
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.ids {
		if strings.HasPrefix(id.Label, prefix) {
			return true
		}
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Identities returns a snapshot of the enrolled set.
func (r *Registry) Identities() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Identity(nil), r.ids...)
}

// Add inserts id in memory only, replacing an identity with the same label.
func (r *Registry) Add(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ids {
		if r.ids[i].Label == id.Label {
			r.ids[i] = id
			return
		}
	}
	r.ids = append(r.ids, id)
}

// validName rejects names that cannot be used in a record file name or a
// snapshot line.
func validName(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\|`) {
		return false
	}
	return !strings.ContainsFunc(name, unicode.IsControl)
}

// Enroll persists a new identity record and adds it to the registry.
func (r *Registry) Enroll(cardID, name string, embedding []float64, at time.Time) (Identity, error) {
	name = strings.TrimSpace(name)
	if !validName(name) {
		return Identity{}, ErrInvalidName
	}
	if len(embedding) == 0 {
		return Identity{}, ErrNoEmbedding
	}

	id := Identity{
		Label:     Label(cardID, name),
		CardID:    cardID,
		Name:      name,
		Embedding: append([]float64(nil), embedding...),
		CreatedAt: at.UTC(),
	}
	b, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return Identity{}, fmt.Errorf("faceid: marshal: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Identity{}, fmt.Errorf("faceid: mkdir: %w", err)
	}
	path := filepath.Join(r.dir, id.Label+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return Identity{}, fmt.Errorf("faceid: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Identity{}, fmt.Errorf("faceid: rename: %w", err)
	}

	r.Add(id)
	return id, nil
}

// Watch reloads the registry whenever records in dir change, coalescing
// bursts of events within debounce. It returns when ctx ends.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("faceid: mkdir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("faceid: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(r.dir); err != nil {
		return fmt.Errorf("faceid: watch %s: %w", r.dir, err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warnf("faceid: watcher: %v", err)
		case <-timer.C:
			if err := r.Load(); err != nil {
				r.logger.Errorf("faceid: reload: %v", err)
			}
		}
	}
}
