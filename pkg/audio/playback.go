package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxkit/voxkit/pkg/protocol"
)

// Sink is the audio output device a [Player] renders into. Implementations
// wrap a concrete playback backend (see [FFplaySink]) or record writes for
// tests.
//
// Start opens the device for the given format; it may block while the device
// becomes ready. Reset halts output immediately and tears the device down;
// the Player re-opens it lazily via Start on the next scheduled chunk.
// Calling Reset on a sink that is not started must be a no-op.
type Sink interface {
	Start(f Format) error
	Write(pcm []byte) error
	Reset() error
	Close() error
}

// Clock is the monotonic output timeline a [Player] schedules against.
// The production implementation is backed by the wall clock; tests inject a
// manual clock to verify scheduling decisions without sleeping.
type Clock interface {
	// Now returns the current position on the output timeline.
	Now() time.Duration

	// AfterFunc arranges for f to run once d has elapsed on the timeline and
	// returns a handle that can cancel the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback created by [Clock.AfterFunc].
type Timer interface {
	// Stop cancels the callback. It reports false if the callback already ran
	// or was stopped.
	Stop() bool
}

// realClock implements [Clock] on the process monotonic clock.
type realClock struct {
	start time.Time
}

func newRealClock() *realClock { return &realClock{start: time.Now()} }

func (c *realClock) Now() time.Duration { return time.Since(c.start) }

func (c *realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PlayerOption configures a [Player] during construction.
type PlayerOption func(*Player)

// WithClock replaces the player's output clock. Used by tests to drive
// scheduling deterministically.
func WithClock(c Clock) PlayerOption {
	return func(p *Player) { p.clock = c }
}

// Player is the scheduled playback engine. It consumes synthesized-audio
// chunks, converts them to the output format, and schedules each one to begin
// at max(clock now, next free time) so consecutive chunks render back-to-back
// with no audible gap regardless of network jitter between arrivals.
//
// Every scheduled-but-unfinished chunk is tracked so [Player.Flush] can halt
// all of them instantly. After a flush no residual audio from the superseded
// turn is ever heard.
//
// Scheduling decisions are serialised by an internal mutex; chunks render
// asynchronously on the clock's callbacks. All methods are safe for
// concurrent use.
type Player struct {
	sink   Sink
	clock  Clock
	output Format
	conv   FormatConverter

	mu       sync.Mutex
	started  bool
	nextFree time.Duration
	units    map[uint64]*playbackUnit
	nextID   uint64
	closed   bool
}

// playbackUnit is one scheduled chunk awaiting or undergoing render.
type playbackUnit struct {
	id    uint64
	pcm   []byte
	start time.Duration
	timer Timer
}

// NewPlayer creates a Player rendering into sink at the given output format.
// The sink is opened lazily on the first scheduled chunk, not at construction.
func NewPlayer(sink Sink, output Format, opts ...PlayerOption) *Player {
	p := &Player{
		sink:   sink,
		clock:  newRealClock(),
		output: output,
		conv:   FormatConverter{Target: output},
		units:  make(map[uint64]*playbackUnit),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Schedule decodes chunk and queues it on the output clock. A chunk with an
// empty payload is a valid zero-duration no-op (the service uses an empty
// final chunk to mark end-of-utterance audio). Malformed payloads return an
// error and leave all scheduling state untouched; a single bad chunk never
// affects subsequent ones.
func (p *Player) Schedule(chunk protocol.AudioStreamPCM) error {
	pcm, err := chunk.DecodePCM()
	if err != nil {
		slog.Warn("playback: dropping malformed chunk", "err", err)
		return fmt.Errorf("playback: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}

	src := Format{SampleRate: chunk.SampleRate, Channels: chunk.Channels}
	if src.SampleRate <= 0 {
		src.SampleRate = DefaultSynthesisFormat.SampleRate
	}
	if src.Channels <= 0 {
		src.Channels = DefaultSynthesisFormat.Channels
	}
	pcm = p.conv.Convert(pcm, src)
	if len(pcm) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("playback: player is closed")
	}

	// Lazily (re-)open the sink: on first use and after every flush.
	if !p.started {
		if err := p.sink.Start(p.output); err != nil {
			return fmt.Errorf("playback: open sink: %w", err)
		}
		p.started = true
		p.nextFree = p.clock.Now()
	}

	now := p.clock.Now()
	start := now
	if p.nextFree > start {
		start = p.nextFree
	}
	dur := pcmDuration(len(pcm), p.output)

	p.nextID++
	u := &playbackUnit{id: p.nextID, pcm: pcm, start: start}
	p.units[u.id] = u
	u.timer = p.clock.AfterFunc(start-now, func() { p.render(u) })
	p.nextFree = start + dur

	return nil
}

// render writes a unit's PCM to the sink when its start time arrives and
// deregisters it from the tracking set. A unit that was flushed between
// callback fire and lock acquisition is silently skipped.
func (p *Player) render(u *playbackUnit) {
	p.mu.Lock()
	if _, ok := p.units[u.id]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.units, u.id)
	sink := p.sink
	p.mu.Unlock()

	if err := sink.Write(u.pcm); err != nil {
		slog.Warn("playback: sink write failed", "err", err)
	}
}

// Flush halts every tracked unit immediately, clears the tracking set, resets
// the next-free position, and tears the sink down for lazy re-creation.
// Flushing an idle player is a no-op; flushing twice has the same observable
// effect as once.
func (p *Player) Flush() {
	p.mu.Lock()
	for id, u := range p.units {
		if u.timer != nil {
			u.timer.Stop()
		}
		delete(p.units, id)
	}
	p.nextFree = 0
	wasStarted := p.started
	p.started = false
	sink := p.sink
	p.mu.Unlock()

	if !wasStarted {
		return
	}
	if err := sink.Reset(); err != nil {
		slog.Warn("playback: sink reset failed", "err", err)
	}
}

// Scheduled returns the number of tracked units that have not yet finished
// rendering.
func (p *Player) Scheduled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.units)
}

// Close flushes pending playback and releases the sink. Subsequent Schedule
// calls fail. Close is safe to call more than once.
func (p *Player) Close() error {
	p.Flush()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sink := p.sink
	p.mu.Unlock()

	return sink.Close()
}

// pcmDuration returns the render duration of pcmBytes of int16 PCM in f.
func pcmDuration(pcmBytes int, f Format) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := pcmBytes / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
