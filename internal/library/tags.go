package library

import (
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// TagTitle returns the title stored in the audio file's metadata (ID3, MP4,
// FLAC or Ogg tags), or "" when the file has none or cannot be read.
func TagTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(m.Title())
}

func defaultTitle(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Track " + short
}
