package library

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(env *testEnv, readOnly bool) *chi.Mux {
	h := NewHandler(env.store, env.jobs, env.pipeline, env.artifacts, discardLogger(), nil, readOnly)
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func serve(r http.Handler, method, target string, body []byte, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Health_and_Mode(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeTranscoder{}, 1)

	rec := serve(newTestRouter(env, false), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}

	for _, ro := range []bool{false, true} {
		rec := serve(newTestRouter(env, ro), http.MethodGet, "/api/mode", nil)
		var mode struct {
			ReadOnly bool   `json:"readonly"`
			Mode     string `json:"mode"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &mode); err != nil {
			t.Fatalf("mode body: %v", err)
		}
		if mode.ReadOnly != ro {
			t.Errorf("readonly=%v: got %+v", ro, mode)
		}
	}
}

func TestHandler_ListTracks(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeTranscoder{}, 1)
	r := newTestRouter(env, false)

	rec := serve(r, http.MethodGet, "/api/tracks", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty library should list [], got %s", rec.Body.String())
	}

	e := addSession(t, env.store, env.root, "Song A", "https://example.test/a", 4)
	rec = serve(r, http.MethodGet, "/api/tracks", nil)
	var tracks []Track
	if err := json.Unmarshal(rec.Body.Bytes(), &tracks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	want := Track{
		ID:              e.Key,
		Title:           "Song A",
		URL:             "/api/hls/" + e.Session.ID + "/playlist.m3u8",
		SessionID:       e.Session.ID,
		TotalSegments:   4,
		SegmentDuration: 10,
	}
	if tracks[0] != want {
		t.Errorf("got %+v, want %+v", tracks[0], want)
	}
}

func TestHandler_download_flow(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeTranscoder{segments: 3}, 1)
	r := newTestRouter(env, false)

	b, _ := json.Marshal(SubmitRequest{URL: "https://example.test/a", Title: "Song A"})
	rec := serve(r, http.MethodPost, "/api/download", b)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil || job.ID == "" {
		t.Fatalf("decode job: %v %s", err, rec.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for job.State != JobReady {
		if time.Now().After(deadline) || job.State == JobError {
			t.Fatalf("job did not become ready: %+v", job)
		}
		time.Sleep(5 * time.Millisecond)
		rec = serve(r, http.MethodGet, "/api/download/"+job.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("poll: expected 200, got %d", rec.Code)
		}
		job = Job{}
		json.Unmarshal(rec.Body.Bytes(), &job)
	}
	if job.Result == nil || job.Result.TotalSegments != 3 {
		t.Fatalf("unexpected result %+v", job.Result)
	}

	rec = serve(r, http.MethodGet, job.Result.PlaylistURL, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("playlist: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("playlist content type %q", ct)
	}

	for _, name := range SegmentNames(rec.Body.String()) {
		seg := serve(r, http.MethodGet, "/api/hls/"+job.Result.SessionID+"/"+name, nil)
		if seg.Code != http.StatusOK {
			t.Errorf("segment %s: expected 200, got %d", name, seg.Code)
		}
		if ct := seg.Header().Get("Content-Type"); ct != "video/mp2t" {
			t.Errorf("segment %s content type %q", name, ct)
		}
	}

	rec = serve(r, http.MethodGet, "/api/tracks", nil)
	var tracks []Track
	json.Unmarshal(rec.Body.Bytes(), &tracks)
	if len(tracks) != 1 || tracks[0].ListenCount != 1 {
		t.Errorf("expected one track with one listen, got %+v", tracks)
	}
}

func TestHandler_SubmitDownload_errors(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeTranscoder{}, 1)
	r := newTestRouter(env, false)
	addSession(t, env.store, env.root, "Song A", "https://example.test/a", 1)

	t.Run("duplicate", func(t *testing.T) {
		b, _ := json.Marshal(SubmitRequest{URL: "https://example.test/a"})
		rec := serve(r, http.MethodPost, "/api/download", b)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["id"] == "" || !strings.Contains(body["error"], "Song A") {
			t.Errorf("unexpected conflict body %v", body)
		}
		job, ok := env.jobs.Get(body["id"])
		if !ok || job.State != JobError {
			t.Errorf("duplicate job should be recorded as failed, got %+v", job)
		}
	})

	t.Run("bad_json", func(t *testing.T) {
		rec := serve(r, http.MethodPost, "/api/download", []byte("not json"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("missing_url", func(t *testing.T) {
		rec := serve(r, http.MethodPost, "/api/download", []byte("{}"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown_job", func(t *testing.T) {
		rec := serve(r, http.MethodGet, "/api/download/does-not-exist", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestHandler_GetSegment(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeTranscoder{}, 1)
	r := newTestRouter(env, false)
	e := addSession(t, env.store, env.root, "Song A", "https://example.test/a", 2)
	base := "/api/hls/" + e.Session.ID + "/"

	t.Run("range", func(t *testing.T) {
		rec := serve(r, http.MethodGet, base+"000.ts", nil, "Range", "bytes=0-3")
		if rec.Code != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", rec.Code)
		}
		if rec.Body.String() != "segm" {
			t.Errorf("unexpected body %q", rec.Body.String())
		}
	})

	t.Run("percent_in_name", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(e.Session.SegmentsDir, "%2541.ts"), []byte("literal"), 0o644); err != nil {
			t.Fatal(err)
		}
		rec := serve(r, http.MethodGet, base+"%252541.ts", nil)
		if rec.Code != http.StatusOK || rec.Body.String() != "literal" {
			t.Errorf("expected the literally named segment, got %d %q", rec.Code, rec.Body.String())
		}
	})

	for _, target := range []string{
		base + "..%2F..%2Fetc%2Fpasswd",
		base + "..%2F" + LedgerFileName,
		base + "%2Fetc%2Fpasswd",
		base + "007.ts",
		"/api/hls/unknown/000.ts",
		"/api/hls/unknown/playlist.m3u8",
	} {
		rec := serve(r, http.MethodGet, target, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestHandler_DeleteTrack(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeTranscoder{}, 1)
	r := newTestRouter(env, false)
	e := addSession(t, env.store, env.root, "Song A", "https://example.test/a", 2)

	rec := serve(r, http.MethodDelete, "/api/tracks/"+e.Key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !body.Success || body.Message != "Track 'Song A' deleted" {
		t.Errorf("unexpected body %+v", body)
	}

	rec = serve(r, http.MethodGet, "/api/tracks", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty list after delete, got %s", rec.Body.String())
	}
	rec = serve(r, http.MethodGet, e.Session.PlaylistURL(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("playlist after delete: expected 404, got %d", rec.Code)
	}
	rec = serve(r, http.MethodDelete, "/api/tracks/"+e.Key, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}

	loaded, _ := NewFileLedger(env.root).Load()
	if len(loaded) != 0 {
		t.Errorf("ledger still holds %d sessions", len(loaded))
	}
}

func TestHandler_readonly(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{}, &fakeTranscoder{}, 1)
	r := newTestRouter(env, true)
	e := addSession(t, env.store, env.root, "Song A", "https://example.test/a", 1)

	b, _ := json.Marshal(SubmitRequest{URL: "https://example.test/b"})
	if rec := serve(r, http.MethodPost, "/api/download", b); rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("submit in read-only mode: got %d", rec.Code)
	}
	if rec := serve(r, http.MethodDelete, "/api/tracks/"+e.Key, nil); rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("delete in read-only mode: got %d", rec.Code)
	}
	if env.store.Len() != 1 {
		t.Error("read-only mode must not change the library")
	}
	if rec := serve(r, http.MethodGet, e.Session.PlaylistURL(), nil); rec.Code != http.StatusOK {
		t.Errorf("playback in read-only mode: expected 200, got %d", rec.Code)
	}
}
