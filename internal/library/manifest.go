package library

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ManifestName is the playlist file written into every session directory.
	ManifestName = "playlist.m3u8"

	// SegmentExt is the extension of media segment files listed in a manifest.
	SegmentExt = ".ts"

	manifestContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
)

// audioExts are the file types accepted from the fetch tool.
var audioExts = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".mp4": {}, ".flac": {}, ".ogg": {}, ".m4a": {}, ".aac": {},
}

// IsAudioFile reports whether path has an accepted audio extension.
func IsAudioFile(path string) bool {
	_, ok := audioExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FindAudioFile returns the first audio file in dir, in name order.
// Ambiguity is not diagnosed: the first match wins.
func FindAudioFile(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && IsAudioFile(e.Name()) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

// SegmentNames returns the URIs in an HLS manifest that reference media
// segments, in playlist order. Tags and comments are skipped.
func SegmentNames(manifest string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(manifest))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, SegmentExt) {
			names = append(names, line)
		}
	}
	return names
}

// CountSegments is len(SegmentNames(manifest)).
func CountSegments(manifest string) int {
	return len(SegmentNames(manifest))
}
