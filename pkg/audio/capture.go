package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

// CaptureSource produces raw little-endian 16-bit mono PCM from an input
// device. Read blocks until samples are available or the source is closed.
type CaptureSource interface {
	io.ReadCloser

	// Format reports the PCM format of the bytes returned by Read.
	Format() Format
}

// FFmpegCapture records from the default microphone through an ffmpeg child
// process and exposes its s16le stdout as a [CaptureSource]. The input device
// flags are chosen per platform: avfoundation on macOS, pulse elsewhere.
type FFmpegCapture struct {
	format Format

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

var _ CaptureSource = (*FFmpegCapture)(nil)

// NewFFmpegCapture starts recording mono audio at sampleRate Hz. The returned
// source is already producing; cancel ctx or call Close to stop it.
func NewFFmpegCapture(ctx context.Context, sampleRate int) (*FFmpegCapture, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid capture rate %d", sampleRate)
	}

	var inputArgs []string
	switch runtime.GOOS {
	case "darwin":
		inputArgs = []string{"-f", "avfoundation", "-i", ":0"}
	default:
		inputArgs = []string{"-f", "pulse", "-i", "default"}
	}
	args := append(inputArgs,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-loglevel", "quiet",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start ffmpeg capture: %w", err)
	}

	return &FFmpegCapture{
		format: Format{SampleRate: sampleRate, Channels: 1},
		cmd:    cmd,
		stdout: stdout,
	}, nil
}

// Format returns the capture PCM format.
func (c *FFmpegCapture) Format() Format { return c.format }

// Read returns the next available captured PCM bytes. It returns [io.EOF]
// after Close or when the recording process exits.
func (c *FFmpegCapture) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Close stops the recording process. Safe to call more than once.
func (c *FFmpegCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return nil
	}
	c.stdout.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.cmd.Wait()
	c.cmd = nil
	return nil
}
