package library

import (
	"fmt"
	"time"
)

// Session is a completed, servable conversion: a manifest plus the segment
// files it lists, all under SegmentsDir.
type Session struct {
	ID              string
	Title           string
	OriginURL       string
	SegmentsDir     string
	ManifestPath    string
	SegmentCount    int
	SegmentDuration float64
	PlayCount       uint64
}

// PlaylistURL is the public address of the session's manifest.
func (s Session) PlaylistURL() string {
	return fmt.Sprintf("/api/hls/%s/playlist.m3u8", s.ID)
}

// Entry pairs a Session with the content key it is stored under.
type Entry struct {
	Key     string
	Session Session
}

// Track is the listing view of a cached session.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	SessionID       string  `json:"session_id"`
	TotalSegments   int     `json:"total_segments"`
	SegmentDuration float64 `json:"segment_duration"`
	ListenCount     uint64  `json:"listen_count"`
}

// TrackOf builds the listing view of e.
func TrackOf(e Entry) Track {
	return Track{
		ID:              e.Key,
		Title:           e.Session.Title,
		URL:             e.Session.PlaylistURL(),
		SessionID:       e.Session.ID,
		TotalSegments:   e.Session.SegmentCount,
		SegmentDuration: e.Session.SegmentDuration,
		ListenCount:     e.Session.PlayCount,
	}
}

// JobState is a step of the conversion state machine.
type JobState string

const (
	JobQueued      JobState = "queued"
	JobDownloading JobState = "downloading"
	JobConverting  JobState = "converting"
	JobReady       JobState = "ready"
	JobError       JobState = "error"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobReady || s == JobError
}

// CanTransition reports whether a job may move from s to next. Steps only
// move forward; error is reachable from any non-terminal state.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == JobError {
		return true
	}
	switch s {
	case JobQueued:
		return next == JobDownloading
	case JobDownloading:
		return next == JobConverting
	case JobConverting:
		return next == JobReady
	}
	return false
}

// JobResult is the public view of the session a job produced.
type JobResult struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	SessionID       string  `json:"session_id"`
	PlaylistURL     string  `json:"playlist_url"`
	TotalSegments   int     `json:"total_segments"`
	SegmentDuration float64 `json:"segment_duration"`
}

// Job is the transient record of one pipeline execution.
type Job struct {
	ID       string     `json:"id"`
	State    JobState   `json:"status"`
	Progress string     `json:"progress,omitempty"`
	Error    string     `json:"error,omitempty"`
	Result   *JobResult `json:"session,omitempty"`

	OriginURL  string    `json:"-"`
	CreatedAt  time.Time `json:"-"`
	FinishedAt time.Time `json:"-"`
}

// SubmitRequest is the body of a conversion request.
type SubmitRequest struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}
