package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LedgerFileName is the ledger file kept in the cache root.
const LedgerFileName = "hls_cache.json"

// Ledger is the persistence abstraction for sessions.
// SessionStore uses a Ledger for every read and write of durable state;
// callers of SessionStore do not need to know which Ledger is used.
type Ledger interface {
	// Load returns every recorded session by content key. A missing ledger is
	// an empty one, not an error.
	Load() (map[string]Session, error)

	// Save replaces the whole ledger with sessions.
	Save(sessions map[string]Session) error
}

type ledgerEntry struct {
	FileHash        string  `json:"file_hash"`
	SessionID       string  `json:"session_id"`
	Title           string  `json:"title"`
	OriginURL       string  `json:"origin_url,omitempty"`
	SegmentsDir     string  `json:"segments_dir"`
	PlaylistPath    string  `json:"playlist_path"`
	TotalSegments   int     `json:"total_segments"`
	SegmentDuration float64 `json:"segment_duration"`
	ListenCount     uint64  `json:"listen_count,omitempty"`
}

type ledgerData struct {
	Entries []ledgerEntry `json:"entries"`
}

// FileLedger stores sessions as one JSON document.
type FileLedger struct {
	path string
}

// NewFileLedger returns a ledger at dir/LedgerFileName.
func NewFileLedger(dir string) *FileLedger {
	return &FileLedger{path: filepath.Join(dir, LedgerFileName)}
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string {
	return l.path
}

// Load implements Ledger.Load.
func (l *FileLedger) Load() (map[string]Session, error) {
	sessions := make(map[string]Session)

	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return sessions, nil
	}
	if err != nil {
		return sessions, fmt.Errorf("read ledger: %w", err)
	}
	if len(raw) == 0 {
		return sessions, nil
	}

	var data ledgerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return sessions, fmt.Errorf("parse ledger: %w", err)
	}

	for _, e := range data.Entries {
		sessions[e.FileHash] = Session{
			ID:              e.SessionID,
			Title:           e.Title,
			OriginURL:       e.OriginURL,
			SegmentsDir:     e.SegmentsDir,
			ManifestPath:    e.PlaylistPath,
			SegmentCount:    e.TotalSegments,
			SegmentDuration: e.SegmentDuration,
			PlayCount:       e.ListenCount,
		}
	}
	return sessions, nil
}

// Save implements Ledger.Save. The document is written to a temporary file
// in the same directory and renamed over the ledger, so readers never see a
// partial file.
func (l *FileLedger) Save(sessions map[string]Session) error {
	keys := make([]string, 0, len(sessions))
	for k := range sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := ledgerData{Entries: make([]ledgerEntry, 0, len(keys))}
	for _, k := range keys {
		s := sessions[k]
		data.Entries = append(data.Entries, ledgerEntry{
			FileHash:        k,
			SessionID:       s.ID,
			Title:           s.Title,
			OriginURL:       s.OriginURL,
			SegmentsDir:     s.SegmentsDir,
			PlaylistPath:    s.ManifestPath,
			TotalSegments:   s.SegmentCount,
			SegmentDuration: s.SegmentDuration,
			ListenCount:     s.PlayCount,
		})
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), LedgerFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
