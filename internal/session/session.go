// Package session implements the conversation state machine of the voxkit
// client. A [Session] feeds captured audio into the duplex channel, consumes
// the service's event stream in arrival order, and drives playback, display
// callbacks, and history persistence through the phases of each turn.
//
// The wire carries no turn identifiers, but all events for one connection
// arrive on a single ordered stream. After a barge-in the session raises an
// interrupted flag and keeps discarding response and audio events until the
// superseded turn's stream demonstrably ends (its completion marker, terminal
// response, or error passes by), so leftovers of a cut-off turn are never
// heard, persisted, or mistaken for the next turn's response.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxkit/voxkit/internal/config"
	"github.com/voxkit/voxkit/internal/observe"
	"github.com/voxkit/voxkit/pkg/audio"
	"github.com/voxkit/voxkit/pkg/history"
	"github.com/voxkit/voxkit/pkg/protocol"
	"github.com/voxkit/voxkit/pkg/transport"
)

// AudioUnclear is the sentinel transcription the service substitutes when an
// utterance could not be understood. Turns carrying it are surfaced to the
// user but not persisted to history.
const AudioUnclear = "[AUDIO_UNCLEAR]"

// Phase is the conversation state of a [Session].
type Phase int

const (
	// PhaseIdle means no utterance or response is in progress.
	PhaseIdle Phase = iota
	// PhaseListening means user speech is being captured and transcribed.
	PhaseListening
	// PhaseResponding means the assistant's response is streaming in.
	PhaseResponding
)

// String implements [fmt.Stringer].
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseResponding:
		return "responding"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// EventChannel is the duplex channel surface the session depends on.
// [transport.Channel] is the production implementation.
type EventChannel interface {
	SendFrame(ctx context.Context, pcm []byte) error
	SendEvent(ctx context.Context, ev protocol.Event) error
	Inbound() <-chan []byte
	Done() <-chan struct{}
	Close() error
}

var _ EventChannel = (*transport.Channel)(nil)

// Playback is the scheduled playback surface the session depends on.
// [audio.Player] is the production implementation.
type Playback interface {
	Schedule(chunk protocol.AudioStreamPCM) error
	Flush()
}

var _ Playback = (*audio.Player)(nil)

// Callbacks notify the user interface of conversation progress. Nil fields
// are skipped. Callbacks run on the session's event goroutine and must not
// block.
type Callbacks struct {
	// OnInterim delivers a partial transcript superseding the previous one.
	OnInterim func(text string)

	// OnResponseDelta delivers one fragment of the assistant's streaming
	// text. complete marks the end of the turn's text stream.
	OnResponseDelta func(content string, complete bool)

	// OnTurnComplete delivers the terminal transcript and response of a turn.
	OnTurnComplete func(transcription, response string)

	// OnError delivers a service-reported processing failure.
	OnError func(message string)
}

// Config assembles a [Session]'s collaborators.
type Config struct {
	// Channel is the duplex connection to the voice service. Required.
	Channel EventChannel

	// Player renders synthesized audio. Required.
	Player Playback

	// Encoder frames captured samples for transmission. Required.
	Encoder *audio.FrameEncoder

	// History persists completed turns. Defaults to [history.Nop].
	History history.Store

	// Metrics records session telemetry. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Mode selects utterance delimiting. Defaults to [config.ModeContinuous].
	Mode config.Mode

	// FlushPartialFrames sends the buffered sub-frame remainder as a final
	// undersized frame when an utterance ends.
	FlushPartialFrames bool

	// Callbacks receive conversation progress notifications.
	Callbacks Callbacks
}

// Session is one live voice conversation. Captured audio goes out through
// [Session.SendAudio]; everything inbound is processed by [Session.Run], the
// single consumer of the channel's event stream.
type Session struct {
	id      string
	channel EventChannel
	player  Playback
	store   history.Store
	metrics *observe.Metrics
	mode    config.Mode
	cb      Callbacks

	flushPartial bool

	encMu   sync.Mutex
	encoder *audio.FrameEncoder

	mu           sync.Mutex
	phase        Phase
	interrupted  bool
	turn         uint64
	transcript   string
	response     strings.Builder
	respondingAt time.Time
}

// New creates a Session from cfg. The session does nothing until
// [Session.Run] is started.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Channel == nil {
		errs = append(errs, errors.New("session: Channel is required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("session: Player is required"))
	}
	if cfg.Encoder == nil {
		errs = append(errs, errors.New("session: Encoder is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.History == nil {
		cfg.History = history.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeContinuous
	}

	return &Session{
		id:           uuid.NewString(),
		channel:      cfg.Channel,
		player:       cfg.Player,
		store:        cfg.History,
		metrics:      cfg.Metrics,
		mode:         cfg.Mode,
		cb:           cfg.Callbacks,
		flushPartial: cfg.FlushPartialFrames,
		encoder:      cfg.Encoder,
	}, nil
}

// ID returns the session's unique identifier, used as the history session key.
func (s *Session) ID() string { return s.id }

// Phase returns the current conversation phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Turn returns the monotonic turn counter. It increments on every barge-in
// and every terminal response.
func (s *Session) Turn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// Transcript returns the latest partial transcript of the in-progress
// utterance. Each interim replaces the previous one; the buffer is cleared
// when the turn completes or fails.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Run consumes the channel's inbound event stream until the channel closes or
// ctx is cancelled. It is the single consumer of the stream; events are
// processed strictly in arrival order.
func (s *Session) Run(ctx context.Context) error {
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	slog.Info("session started", "session_id", s.id, "mode", s.mode)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-s.channel.Inbound():
			if !ok {
				slog.Info("session channel closed", "session_id", s.id)
				return nil
			}
			ev, err := protocol.Parse(data)
			if err != nil {
				if errors.Is(err, protocol.ErrUnknownType) {
					slog.Debug("skipping unknown event", "session_id", s.id, "err", err)
				} else {
					slog.Warn("skipping malformed event", "session_id", s.id, "err", err)
				}
				continue
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// SendAudio encodes a batch of captured samples and transmits every complete
// frame that becomes available. Frames that cannot be sent because the link
// is down are dropped; capture never blocks on a dead connection.
func (s *Session) SendAudio(ctx context.Context, samples []float32) error {
	s.encMu.Lock()
	frames := s.encoder.Encode(samples)
	s.encMu.Unlock()

	for _, f := range frames {
		if err := s.sendFrame(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendFrame(ctx context.Context, f audio.Frame) error {
	err := s.channel.SendFrame(ctx, f.PCM)
	switch {
	case err == nil:
		s.metrics.FramesSent.Add(ctx, 1)
		return nil
	case errors.Is(err, transport.ErrNotConnected):
		s.metrics.FramesDropped.Add(ctx, 1)
		slog.Debug("dropping frame while disconnected", "session_id", s.id)
		return nil
	default:
		return fmt.Errorf("session: send frame: %w", err)
	}
}

// EndUtterance marks the explicit end of user input. In push-to-talk mode it
// notifies the service; depending on configuration the buffered sub-frame
// remainder is either transmitted as a final undersized frame or discarded.
func (s *Session) EndUtterance(ctx context.Context) error {
	s.encMu.Lock()
	remainder, hasRemainder := s.encoder.Flush()
	s.encMu.Unlock()

	if hasRemainder && s.flushPartial {
		if err := s.sendFrame(ctx, remainder); err != nil {
			return err
		}
	}

	if s.mode == config.ModePushToTalk {
		if err := s.channel.SendEvent(ctx, protocol.UserAudioEnd{}); err != nil {
			return fmt.Errorf("session: signal end of audio: %w", err)
		}
	}
	return nil
}

// Close ends the session deliberately: playback is flushed and the channel is
// closed with a normal closure, so no reconnection follows.
func (s *Session) Close() error {
	s.player.Flush()
	s.metrics.RecordFlush(context.Background(), "shutdown")
	return s.channel.Close()
}

// handleEvent advances the state machine for one inbound event.
func (s *Session) handleEvent(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.InterimTranscription:
		s.handleInterim(ctx, e)
	case protocol.AIResponseStream:
		s.handleResponseStream(ctx, e)
	case protocol.AudioStreamPCM:
		s.handleAudioChunk(ctx, e)
	case protocol.VoiceResponse:
		s.handleVoiceResponse(ctx, e)
	case protocol.StopAudioPlayback:
		s.player.Flush()
		s.metrics.RecordFlush(ctx, "service_stop")
	case protocol.ErrorEvent:
		s.handleError(ctx, e)
	default:
		slog.Debug("ignoring event", "session_id", s.id, "type", ev.EventType())
	}
}

// handleInterim processes a partial transcript. An interim arriving while a
// response is streaming means the user spoke over the assistant: the current
// turn is superseded and playback is cut immediately.
func (s *Session) handleInterim(ctx context.Context, e protocol.InterimTranscription) {
	s.mu.Lock()
	s.transcript = e.Text
	if s.phase == PhaseResponding {
		s.turn++
		s.phase = PhaseListening
		s.interrupted = true
		s.response.Reset()
		s.mu.Unlock()

		slog.Info("barge-in: cutting playback", "session_id", s.id, "turn", s.Turn())
		s.player.Flush()
		s.metrics.BargeIns.Add(ctx, 1)
		s.metrics.RecordFlush(ctx, "barge_in")
	} else {
		s.phase = PhaseListening
		s.mu.Unlock()
	}

	if s.cb.OnInterim != nil {
		s.cb.OnInterim(e.Text)
	}
}

// handleResponseStream accumulates the assistant's streaming text. The first
// fragment moves the session into the responding phase. While the interrupted
// flag is raised the fragments belong to the superseded turn and are dropped;
// the fragment carrying the completion marker ends that turn's text stream.
func (s *Session) handleResponseStream(ctx context.Context, e protocol.AIResponseStream) {
	s.mu.Lock()
	if s.interrupted {
		if e.IsComplete {
			s.interrupted = false
		}
		s.mu.Unlock()
		slog.Debug("dropping superseded response fragment", "session_id", s.id)
		return
	}
	if s.phase != PhaseResponding {
		s.phase = PhaseResponding
		s.respondingAt = time.Now()
	}
	s.response.WriteString(e.Content)
	s.mu.Unlock()

	if s.cb.OnResponseDelta != nil {
		s.cb.OnResponseDelta(e.Content, e.IsComplete)
	}
}

// handleAudioChunk schedules a synthesized chunk. Chunks outside the
// responding phase belong to a superseded turn and are discarded.
func (s *Session) handleAudioChunk(ctx context.Context, e protocol.AudioStreamPCM) {
	s.mu.Lock()
	live := s.phase == PhaseResponding && !s.interrupted
	s.mu.Unlock()
	if !live {
		slog.Debug("dropping audio chunk outside response", "session_id", s.id)
		return
	}
	if err := s.player.Schedule(e); err != nil {
		s.metrics.ChunksRejected.Add(ctx, 1)
		return
	}
	s.metrics.ChunksScheduled.Add(ctx, 1)
}

// handleVoiceResponse finalises the turn: history persistence, telemetry, and
// the terminal callback. A terminal event outside the responding phase is
// stale and dropped.
func (s *Session) handleVoiceResponse(ctx context.Context, e protocol.VoiceResponse) {
	s.mu.Lock()
	if s.interrupted {
		// Terminal of the superseded turn; its stream is over now.
		s.interrupted = false
		s.mu.Unlock()
		slog.Debug("dropping superseded terminal response", "session_id", s.id)
		return
	}
	if s.phase != PhaseResponding {
		s.mu.Unlock()
		slog.Debug("dropping stale terminal response", "session_id", s.id)
		return
	}
	started := s.respondingAt
	s.turn++
	s.phase = PhaseListening
	if s.mode == config.ModePushToTalk {
		s.phase = PhaseIdle
	}
	s.transcript = ""
	s.response.Reset()
	s.mu.Unlock()

	s.metrics.RecordTurnCompleted(ctx, time.Since(started))

	if e.Transcription == AudioUnclear {
		slog.Info("turn completed with unclear audio", "session_id", s.id)
	} else {
		turn := history.Turn{
			Transcription: e.Transcription,
			Response:      e.AIResponse,
			CompletedAt:   time.Now().UTC(),
		}
		if err := s.store.AppendTurn(ctx, s.id, turn); err != nil {
			slog.Warn("failed to persist turn", "session_id", s.id, "err", err)
		}
	}

	if s.cb.OnTurnComplete != nil {
		s.cb.OnTurnComplete(e.Transcription, e.AIResponse)
	}
}

// handleError abandons the current turn after a service-side failure.
func (s *Session) handleError(ctx context.Context, e protocol.ErrorEvent) {
	s.mu.Lock()
	wasResponding := s.phase == PhaseResponding
	if wasResponding {
		s.turn++
	}
	s.phase = PhaseIdle
	if s.mode == config.ModeContinuous {
		s.phase = PhaseListening
	}
	s.interrupted = false
	s.transcript = ""
	s.response.Reset()
	s.mu.Unlock()

	slog.Error("service reported an error", "session_id", s.id, "message", e.Message)
	if wasResponding {
		s.metrics.TurnsFailed.Add(ctx, 1)
		s.player.Flush()
		s.metrics.RecordFlush(ctx, "error")
	}

	if s.cb.OnError != nil {
		s.cb.OnError(e.Message)
	}
}
