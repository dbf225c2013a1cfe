package toolchain

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"hls-library/internal/library"
)

// YTDLP fetches the audio track of a URL with yt-dlp.
type YTDLP struct {
	path string
	log  *slog.Logger
}

// NewYTDLP returns a fetcher running the yt-dlp binary at path.
func NewYTDLP(path string, log *slog.Logger) *YTDLP {
	return &YTDLP{path: path, log: log}
}

// Args returns the yt-dlp arguments used to fetch url into dir.
func (y *YTDLP) Args(url, dir string) []string {
	return []string{
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		"--no-playlist",
		"--force-overwrites",
		url,
	}
}

// Fetch implements library.Fetcher. A non-zero exit is returned as a
// *library.CollaboratorError carrying stderr followed by stdout.
func (y *YTDLP) Fetch(ctx context.Context, url, dir string) error {
	y.log.Debug("running yt-dlp", slog.String("url", url), slog.String("dir", dir))

	stdout, stderr, err := run(ctx, y.path, y.Args(url, dir)...)
	if err != nil {
		output := strings.TrimSpace(stderr + " " + stdout)
		return library.NewCollaboratorError("yt-dlp", output, err)
	}
	return nil
}

// Version reports the installed yt-dlp version.
func (y *YTDLP) Version(ctx context.Context) (string, error) {
	return Probe(ctx, y.path, "--version")
}
