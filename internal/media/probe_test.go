package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

// createTestVideo creates a simple test video using ffmpeg.
func createTestVideo(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=blue:s=64x64:d=%.1f", duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestNewFFprobe(t *testing.T) {
	if p := NewFFprobe(""); p.path != "ffprobe" {
		t.Errorf("expected default path ffprobe, got %s", p.path)
	}
	if p := NewFFprobe("/opt/bin/ffprobe"); p.path != "/opt/bin/ffprobe" {
		t.Errorf("expected custom path, got %s", p.path)
	}
}

func TestFFprobe_Duration(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	createTestVideo(t, path, 2.0)

	d, err := NewFFprobe("").Duration(context.Background(), path)
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if d < 1.9 || d > 2.2 {
		t.Errorf("Duration() = %.2f, want about 2.0", d)
	}
}

func TestFFprobe_Duration_MissingFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	_, err := NewFFprobe("").Duration(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	if !errors.Is(err, ErrFFprobeExecution) {
		t.Errorf("expected ErrFFprobeExecution, got %v", err)
	}
	var pe *ProbeError
	if !errors.As(err, &pe) {
		t.Errorf("expected *ProbeError, got %T", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"12.345\n", 12.345, false},
		{"  7 ", 7, false},
		{"N/A\n", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProbeError(t *testing.T) {
	err := &ProbeError{
		Args:   []string{"-v", "error", "in.mp4"},
		Stderr: "in.mp4: No such file or directory",
		Err:    fmt.Errorf("exit status 1"),
	}

	if !strings.Contains(err.Error(), "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(err.Error(), "No such file") {
		t.Error("Error() should contain stderr")
	}
	if err.Unwrap().Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", err.Unwrap())
	}
}
