package toolchain

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"

	"hls-library/internal/library"
)

// audioBitrate is the AAC bitrate of every rendition.
const audioBitrate = "128k"

// FFmpeg transcodes audio files into HLS with ffmpeg.
type FFmpeg struct {
	path string
	log  *slog.Logger
}

// NewFFmpeg returns a transcoder running the ffmpeg binary at path.
func NewFFmpeg(path string, log *slog.Logger) *FFmpeg {
	return &FFmpeg{path: path, log: log}
}

// Args returns the ffmpeg arguments that cut input into outDir/NNN.ts
// segments listed in outDir/playlist.m3u8.
func (f *FFmpeg) Args(input, outDir string, segmentDuration float64) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-i", input,
		"-vn",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-hls_time", strconv.FormatFloat(segmentDuration, 'f', -1, 64),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outDir, "%03d"+library.SegmentExt),
		"-f", "hls",
		filepath.Join(outDir, library.ManifestName),
	}
}

// Transcode implements library.Transcoder. A non-zero exit is returned as a
// *library.CollaboratorError carrying stderr.
func (f *FFmpeg) Transcode(ctx context.Context, input, outDir string, segmentDuration float64) (string, error) {
	args := f.Args(input, outDir, segmentDuration)
	f.log.Debug("running ffmpeg", slog.String("input", input), slog.String("out_dir", outDir))

	_, stderr, err := run(ctx, f.path, args...)
	if err != nil {
		return "", library.NewCollaboratorError("ffmpeg", stderr, err)
	}
	return filepath.Join(outDir, library.ManifestName), nil
}

// Version reports the installed ffmpeg version.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	return Probe(ctx, f.path, "-version")
}
