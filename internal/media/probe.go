// Package media inspects staged media files with the ffprobe CLI.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrFFprobeExecution is returned when the ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// Prober reads media metadata.
type Prober interface {
	// Duration returns the duration in seconds of a media file.
	Duration(ctx context.Context, path string) (float64, error)
}

// Compile-time check that FFprobe implements Prober.
var _ Prober = (*FFprobe)(nil)

// FFprobe implements Prober using the ffprobe CLI.
type FFprobe struct {
	// path is the ffprobe binary. Defaults to "ffprobe".
	path string
}

// NewFFprobe creates a new FFprobe.
// If path is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

// Available reports whether the ffprobe binary can be found.
func (p *FFprobe) Available() bool {
	_, err := exec.LookPath(p.path)
	return err == nil
}

// Duration returns the container duration reported by ffprobe.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := p.run(ctx, args)
	if err != nil {
		return 0, err
	}
	return parseDuration(out)
}

func (p *FFprobe) run(ctx context.Context, args []string) (string, error) {
	// #nosec G204 - binary path is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return "", &ProbeError{Args: args, Stderr: stderr.String(), Err: fmt.Errorf("%w: %w", ErrFFprobeExecution, err)}
	}
	return stdout.String(), nil
}

func parseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("parse duration: no duration reported")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return d, nil
}

// ProbeError represents an error from an ffprobe invocation.
type ProbeError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("ffprobe %s: %v\nstderr: %s", strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}
