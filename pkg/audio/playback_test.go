package audio_test

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/voxkit/voxkit/pkg/audio"
	"github.com/voxkit/voxkit/pkg/protocol"
)

// fakeClock is a manually advanced implementation of [audio.Clock]. Callbacks
// never fire synchronously from AfterFunc; tests drive them via Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) audio.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and fires all due callbacks in start order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && t.when <= c.now {
			t.fired = true
			due = append(due, t)
			continue
		}
		remaining = append(remaining, t)
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].when < due[j].when })
	for _, t := range due {
		t.f()
	}
}

// recordSink records sink calls for assertions.
type recordSink struct {
	mu     sync.Mutex
	starts int
	resets int
	closes int
	writes [][]byte
}

func (s *recordSink) Start(audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *recordSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), pcm...))
	return nil
}

func (s *recordSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *recordSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

var testFormat = audio.Format{SampleRate: 24000, Channels: 1}

// chunkOfMillis builds a synthesized-audio chunk of the given duration at the
// test format (24 kHz mono).
func chunkOfMillis(ms int) protocol.AudioStreamPCM {
	samples := 24000 * ms / 1000
	return protocol.EncodePCMChunk(make([]byte, samples*2), 24000, 1, false)
}

func newTestPlayer(t *testing.T) (*audio.Player, *fakeClock, *recordSink) {
	t.Helper()
	clock := &fakeClock{}
	sink := &recordSink{}
	return audio.NewPlayer(sink, testFormat, audio.WithClock(clock)), clock, sink
}

func TestPlayer_SchedulesBackToBack(t *testing.T) {
	p, clock, sink := newTestPlayer(t)

	// Two chunks arriving at the same instant must queue sequentially.
	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := p.Scheduled(); got != 2 {
		t.Fatalf("Scheduled: got %d, want 2", got)
	}

	clock.Advance(0)
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("writes at t=0: got %d, want 1", got)
	}

	// Second chunk starts exactly when the first ends, not before.
	clock.Advance(99 * time.Millisecond)
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("writes at t=99ms: got %d, want 1", got)
	}
	clock.Advance(1 * time.Millisecond)
	if got := sink.writeCount(); got != 2 {
		t.Fatalf("writes at t=100ms: got %d, want 2", got)
	}
	if got := p.Scheduled(); got != 0 {
		t.Errorf("Scheduled after render: got %d, want 0", got)
	}
}

func TestPlayer_LateChunkStartsImmediately(t *testing.T) {
	p, clock, sink := newTestPlayer(t)

	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	clock.Advance(250 * time.Millisecond)
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("writes: got %d, want 1", got)
	}

	// Output has been idle for 150ms; a new chunk plays right away.
	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	clock.Advance(0)
	if got := sink.writeCount(); got != 2 {
		t.Fatalf("late chunk should render immediately: writes got %d, want 2", got)
	}
}

func TestPlayer_FlushDiscardsPending(t *testing.T) {
	p, clock, sink := newTestPlayer(t)

	for range 3 {
		if err := p.Schedule(chunkOfMillis(100)); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	clock.Advance(0)
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("writes before flush: got %d, want 1", got)
	}

	p.Flush()
	if got := p.Scheduled(); got != 0 {
		t.Errorf("Scheduled after flush: got %d, want 0", got)
	}
	if sink.resets != 1 {
		t.Errorf("sink resets: got %d, want 1", sink.resets)
	}

	// Pending chunks never render after the flush.
	clock.Advance(time.Second)
	if got := sink.writeCount(); got != 1 {
		t.Errorf("writes after flush: got %d, want 1", got)
	}
}

func TestPlayer_FlushIdempotent(t *testing.T) {
	p, _, sink := newTestPlayer(t)

	// Flushing an idle player never touches the sink.
	p.Flush()
	p.Flush()
	if sink.resets != 0 {
		t.Errorf("sink resets on idle flush: got %d, want 0", sink.resets)
	}

	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	p.Flush()
	p.Flush()
	if sink.resets != 1 {
		t.Errorf("sink resets: got %d, want 1", sink.resets)
	}
}

func TestPlayer_RestartsSinkAfterFlush(t *testing.T) {
	p, clock, sink := newTestPlayer(t)

	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	p.Flush()

	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule after flush: %v", err)
	}
	if sink.starts != 2 {
		t.Errorf("sink starts: got %d, want 2", sink.starts)
	}
	clock.Advance(0)
	if got := sink.writeCount(); got != 1 {
		t.Errorf("writes after restart: got %d, want 1", got)
	}
}

func TestPlayer_MalformedChunkIsIsolated(t *testing.T) {
	p, clock, sink := newTestPlayer(t)

	bad := protocol.AudioStreamPCM{PCMChunk: "not base64!!", SampleRate: 24000, Channels: 1}
	if err := p.Schedule(bad); err == nil {
		t.Fatal("expected error for malformed chunk")
	}
	if sink.starts != 0 {
		t.Errorf("sink started for malformed chunk: starts=%d", sink.starts)
	}

	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule after malformed chunk: %v", err)
	}
	clock.Advance(0)
	if got := sink.writeCount(); got != 1 {
		t.Errorf("writes: got %d, want 1", got)
	}
}

func TestPlayer_EmptyFinalChunkIsNoOp(t *testing.T) {
	p, _, sink := newTestPlayer(t)

	final := protocol.EncodePCMChunk(nil, 24000, 1, true)
	if err := p.Schedule(final); err != nil {
		t.Fatalf("Schedule empty final: %v", err)
	}
	if sink.starts != 0 {
		t.Errorf("sink started for empty chunk: starts=%d", sink.starts)
	}
	if got := p.Scheduled(); got != 0 {
		t.Errorf("Scheduled: got %d, want 0", got)
	}
}

func TestPlayer_ConvertsToOutputFormat(t *testing.T) {
	p, clock, sink := newTestPlayer(t)

	// 48 kHz mono input halves to 24 kHz on the way to the sink.
	chunk := protocol.EncodePCMChunk(make([]byte, 9600), 48000, 1, false)
	if err := p.Schedule(chunk); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	clock.Advance(0)
	if got := sink.writeCount(); got != 1 {
		t.Fatalf("writes: got %d, want 1", got)
	}
	if got := len(sink.writes[0]); got != 4800 {
		t.Errorf("converted bytes: got %d, want 4800", got)
	}
}

func TestPlayer_Close(t *testing.T) {
	p, _, sink := newTestPlayer(t)

	if err := p.Schedule(chunkOfMillis(100)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.closes != 1 {
		t.Errorf("sink closes: got %d, want 1", sink.closes)
	}
	if err := p.Schedule(chunkOfMillis(100)); err == nil {
		t.Error("Schedule after Close should fail")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
