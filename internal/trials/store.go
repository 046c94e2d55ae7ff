// Package trials keeps the list of trial records behind the REST
// surface. The whole list lives in memory and is mirrored to a single
// JSON snapshot file on every create.
package trials

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("trial not found")

type Trial struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type snapshot struct {
	Trials []Trial `json:"trials"`
}

type Store struct {
	mu     sync.Mutex
	path   string
	trials []Trial // most recent first
	lastID int64
	log    *zap.Logger
}

// New loads the snapshot at path. A missing file starts empty; a
// corrupt one degrades to empty rather than failing startup.
func New(path string, log *zap.Logger) *Store {
	s := &Store{path: path, log: log}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("trials snapshot unreadable", zap.String("path", path), zap.Error(err))
		}
		return s
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn("trials snapshot corrupt, starting empty", zap.String("path", path), zap.Error(err))
		return s
	}
	s.trials = snap.Trials
	for _, t := range s.trials {
		if id, err := strconv.ParseInt(t.ID, 10, 64); err == nil && id > s.lastID {
			s.lastID = id
		}
	}
	return s
}

// List returns all trials, most recently created first.
func (s *Store) List() []Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trial, len(s.trials))
	copy(out, s.trials)
	return out
}

// Create appends a trial and rewrites the snapshot. Ids are millisecond
// timestamps, bumped when needed so they stay strictly increasing.
func (s *Store) Create(title, description string) Trial {
	if title == "" {
		title = "Untitled Trial"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id

	t := Trial{
		ID:          strconv.FormatInt(id, 10),
		Title:       title,
		Description: description,
		CreatedAt:   time.Now(),
	}
	s.trials = append([]Trial{t}, s.trials...)
	s.persistLocked()
	return t
}

// Get returns the trial with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trials {
		if t.ID == id {
			return t, nil
		}
	}
	return Trial{}, ErrNotFound
}

// persistLocked rewrites the snapshot wholesale via a temp file and
// rename, so a crashed write never leaves a half-parsed document. A
// failed write is logged; memory stays authoritative and the next
// successful write heals the file.
func (s *Store) persistLocked() {
	data, err := json.MarshalIndent(snapshot{Trials: s.trials}, "", "  ")
	if err != nil {
		s.log.Error("trials snapshot marshal failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Error("trials data dir", zap.Error(err))
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.log.Error("trials snapshot write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error("trials snapshot rename failed", zap.Error(err))
	}
}
