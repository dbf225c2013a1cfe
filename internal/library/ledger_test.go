package library

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileLedger_missing_and_empty(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLedger(dir)

	got, err := l.Load()
	if err != nil || len(got) != 0 {
		t.Fatalf("missing ledger: got %v, %v", got, err)
	}

	if err := os.WriteFile(l.Path(), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = l.Load()
	if err != nil || len(got) != 0 {
		t.Errorf("empty ledger: got %v, %v", got, err)
	}
}

func TestFileLedger_malformed(t *testing.T) {
	l := NewFileLedger(t.TempDir())
	if err := os.WriteFile(l.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := l.Load()
	if err == nil {
		t.Error("expected parse error")
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty map alongside error, got %v", got)
	}
}

func TestFileLedger_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLedger(dir)
	in := map[string]Session{
		"k2": {ID: "s2", Title: "B", SegmentsDir: "/c/s2", ManifestPath: "/c/s2/playlist.m3u8", SegmentCount: 1, SegmentDuration: 10},
		"k1": {ID: "s1", Title: "A", OriginURL: "https://example.test/a", SegmentsDir: "/c/s1", ManifestPath: "/c/s1/playlist.m3u8", SegmentCount: 7, SegmentDuration: 6, PlayCount: 3},
	}
	if err := l.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 || out["k1"] != in["k1"] || out["k2"] != in["k2"] {
		t.Errorf("round trip mismatch: %+v", out)
	}

	raw, _ := os.ReadFile(l.Path())
	var doc struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("ledger is not json: %v", err)
	}
	if len(doc.Entries) != 2 || doc.Entries[0]["file_hash"] != "k1" || doc.Entries[0]["playlist_path"] != "/c/s1/playlist.m3u8" {
		t.Errorf("unexpected ledger layout: %s", raw)
	}

	tmps, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(tmps) != 0 {
		t.Errorf("temp files left behind: %v", tmps)
	}
}

func TestFileLedger_Save_missing_dir(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), "gone"))
	if err := l.Save(map[string]Session{}); err == nil {
		t.Error("expected error saving into a missing directory")
	}
}
