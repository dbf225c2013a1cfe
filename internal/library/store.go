package library

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// SessionStore is the concurrency-safe map from content key to Session,
// backed by a Ledger.
//
// One mutex guards the map for readers and writers alike. No filesystem or
// subprocess call is made while it is held: Persist copies the map under the
// lock and writes the copy after releasing it. Writes are serialized by a
// second lock and stamped with a generation, so a stale snapshot never
// replaces a newer one on disk.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	byID     map[string]string // session id -> content key
	reserved map[string]string // content key -> origin, for in-flight jobs
	gen      uint64

	writeMu sync.Mutex
	written uint64

	ledger  Ledger
	loadErr error
	log     *slog.Logger
}

// NewSessionStore returns an empty store persisting to ledger.
func NewSessionStore(ledger Ledger, log *slog.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]Session),
		byID:     make(map[string]string),
		reserved: make(map[string]string),
		ledger:   ledger,
		log:      log,
	}
}

// OpenSessionStore loads ledger and keeps only the sessions whose segment
// directory and manifest still exist. A ledger that cannot be read or parsed
// is logged and treated as empty. When stale rows were dropped the ledger is
// rewritten immediately so they do not linger on disk.
func OpenSessionStore(ledger Ledger, log *slog.Logger) *SessionStore {
	s := NewSessionStore(ledger, log)

	loaded, err := ledger.Load()
	if err != nil {
		log.Warn("ledger unreadable, starting with an empty cache", slog.String("error", err.Error()))
		s.loadErr = err
		return s
	}

	pruned := 0
	for key, sess := range loaded {
		if !artifactsExist(sess) {
			pruned++
			log.Debug("dropping session with missing files",
				slog.String("session_id", sess.ID),
				slog.String("segments_dir", sess.SegmentsDir))
			continue
		}
		s.sessions[key] = sess
		s.byID[sess.ID] = key
	}

	log.Info("loaded session cache", slog.Int("sessions", len(s.sessions)), slog.Int("pruned", pruned))
	if pruned > 0 {
		s.gen++
		s.Persist()
	}
	return s
}

// LoadErr returns the error that made OpenSessionStore start empty, or nil.
// Session directories on disk are not known to be orphans when it is set.
func (s *SessionStore) LoadErr() error {
	return s.loadErr
}

func artifactsExist(s Session) bool {
	if s.SegmentsDir == "" || s.ManifestPath == "" {
		return false
	}
	dir, err := os.Stat(s.SegmentsDir)
	if err != nil || !dir.IsDir() {
		return false
	}
	manifest, err := os.Stat(s.ManifestPath)
	return err == nil && manifest.Mode().IsRegular()
}

// Get returns the session stored under key.
func (s *SessionStore) Get(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	return sess, ok
}

// FindByOrigin returns the entry whose OriginURL equals origin.
func (s *SessionStore) FindByOrigin(origin string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.findByOriginLocked(origin)
}

func (s *SessionStore) findByOriginLocked(origin string) (Entry, bool) {
	for key, sess := range s.sessions {
		if sess.OriginURL == origin {
			return Entry{Key: key, Session: sess}, true
		}
	}
	return Entry{}, false
}

// FindBySessionID returns the entry whose session has the given id.
func (s *SessionStore) FindBySessionID(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Key: key, Session: s.sessions[key]}, true
}

// Reserve claims key for an in-flight conversion of origin. It fails with a
// *DuplicateOriginError when the key or origin already has a session or
// another reservation. The lookup and the claim happen under one lock.
func (s *SessionStore) Reserve(key, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		return &DuplicateOriginError{Title: sess.Title}
	}
	if e, ok := s.findByOriginLocked(origin); ok {
		return &DuplicateOriginError{Title: e.Session.Title}
	}
	if _, ok := s.reserved[key]; ok {
		return &DuplicateOriginError{InProgress: true}
	}
	s.reserved[key] = origin
	return nil
}

// Release drops a reservation taken by Reserve. It is a no-op once Insert
// has replaced the reservation with a session.
func (s *SessionStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reserved, key)
}

// Insert stores sess under key, replacing any reservation for key.
func (s *SessionStore) Insert(key string, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.sessions[key]; ok {
		delete(s.byID, old.ID)
	}
	s.sessions[key] = sess
	s.byID[sess.ID] = key
	delete(s.reserved, key)
	s.gen++
}

// Remove deletes and returns the session stored under key.
func (s *SessionStore) Remove(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	delete(s.sessions, key)
	delete(s.byID, sess.ID)
	s.gen++
	return sess, true
}

// Update applies fn to the session under key in place and reports whether
// the key existed. fn must not change the session id.
func (s *SessionStore) Update(key string, fn func(*Session)) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	id := sess.ID
	fn(&sess)
	sess.ID = id
	s.sessions[key] = sess
	s.gen++
	return sess, true
}

// List returns a snapshot of all entries ordered by title, then key.
func (s *SessionStore) List() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.sessions))
	for key, sess := range s.sessions {
		out = append(out, Entry{Key: key, Session: sess})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Session.Title != out[j].Session.Title {
			return out[i].Session.Title < out[j].Session.Title
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// OwnedDirs returns the cleaned segment directories of all sessions.
func (s *SessionStore) OwnedDirs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirs := make(map[string]struct{}, len(s.sessions))
	for _, sess := range s.sessions {
		dirs[filepath.Clean(sess.SegmentsDir)] = struct{}{}
	}
	return dirs
}

// Persist writes a snapshot of the store to the ledger. Failures are logged
// and returned; the in-memory map stays authoritative either way.
func (s *SessionStore) Persist() error {
	s.mu.Lock()
	gen := s.gen
	snapshot := make(map[string]Session, len(s.sessions))
	for key, sess := range s.sessions {
		snapshot[key] = sess
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if gen < s.written {
		return nil
	}
	if err := s.ledger.Save(snapshot); err != nil {
		s.log.Warn("failed to save session ledger", slog.String("error", err.Error()))
		return err
	}
	s.written = gen
	return nil
}
