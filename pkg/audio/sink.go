package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// FFplaySink renders PCM through an ffplay child process reading from stdin.
// Reset kills the process outright, which is the only way to discard audio
// already buffered inside ffplay; the [Player] restarts the sink lazily on the
// next chunk, so a barge-in costs one process spawn.
type FFplaySink struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

var _ Sink = (*FFplaySink)(nil)

// NewFFplaySink creates an idle sink. No process is spawned until Start.
func NewFFplaySink() *FFplaySink { return &FFplaySink{} }

// Start spawns ffplay configured for raw little-endian 16-bit PCM in f.
// Starting an already-started sink is a no-op.
func (s *FFplaySink) Start(f Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("audio: invalid playback format %dHz/%dch", f.SampleRate, f.Channels)
	}

	layout := "mono"
	if f.Channels == 2 {
		layout = "stereo"
	}
	cmd := exec.Command("ffplay",
		"-f", "s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ch_layout", layout,
		"-nodisp",
		"-loglevel", "quiet",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("audio: ffplay stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audio: start ffplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// Write feeds pcm to the ffplay stdin pipe.
func (s *FFplaySink) Write(pcm []byte) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("audio: sink not started")
	}
	if _, err := stdin.Write(pcm); err != nil {
		return fmt.Errorf("audio: write to ffplay: %w", err)
	}
	return nil
}

// Reset halts playback immediately by killing the ffplay process. The sink
// returns to the idle state and can be started again. Resetting an idle sink
// is a no-op.
func (s *FFplaySink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Close releases the sink. Equivalent to Reset for this backend.
func (s *FFplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *FFplaySink) stopLocked() error {
	if s.cmd == nil {
		return nil
	}
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	// Reap the child; the kill makes Wait return an error we do not care about.
	s.cmd.Wait()
	s.cmd = nil
	s.stdin = nil
	return nil
}
