package library

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrDuplicateOrigin is returned when a conversion is requested for an
	// origin that already has a live or in-flight session.
	ErrDuplicateOrigin = errors.New("origin already exists")

	// ErrNotFound is returned when a session, job, or artifact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a requested artifact path resolves outside
	// its session directory. Clients must see it exactly as ErrNotFound.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidRequest is returned for a submit request without a usable URL.
	ErrInvalidRequest = errors.New("invalid request")
)

// maxDiagnosticLen bounds collaborator output kept on a job.
const maxDiagnosticLen = 4096

// DuplicateOriginError names the session that already holds the origin.
type DuplicateOriginError struct {
	Title      string
	InProgress bool
}

func (e *DuplicateOriginError) Error() string {
	if e.InProgress {
		return "This song is already being downloaded"
	}
	return fmt.Sprintf("This song is already downloaded: %q", e.Title)
}

func (e *DuplicateOriginError) Is(target error) bool {
	return target == ErrDuplicateOrigin
}

// CollaboratorError is an abnormal exit of the fetch or transcode tool.
// Output holds the tool's diagnostic text, truncated to its last bytes.
type CollaboratorError struct {
	Tool   string
	Output string
	Err    error
}

// NewCollaboratorError keeps at most maxDiagnosticLen bytes of output.
func NewCollaboratorError(tool, output string, err error) *CollaboratorError {
	return &CollaboratorError{Tool: tool, Output: truncateTail(output, maxDiagnosticLen), Err: err}
}

func (e *CollaboratorError) Error() string {
	if e.Output == "" && e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Tool, e.Output)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// truncateTail keeps at most the last n bytes of s, starting on a rune
// boundary.
func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
