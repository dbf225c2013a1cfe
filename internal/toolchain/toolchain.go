// Package toolchain runs the external programs the library depends on:
// yt-dlp to fetch audio and ffmpeg to cut it into HLS segments.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Probe runs the tool with a version flag and returns the first line of its
// output. It fails when the binary is missing or exits non-zero.
func Probe(ctx context.Context, path string, versionArgs ...string) (string, error) {
	out, err := exec.CommandContext(ctx, path, versionArgs...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line, nil
}

// run executes name with args, capturing stdout and stderr separately.
func run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}
