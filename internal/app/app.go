// Package app wires all voxkit subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture and event loops, and Shutdown tears
// everything down in order.
//
// For testing, inject fake implementations via functional options
// (WithChannel, WithPlayer, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxkit/voxkit/internal/config"
	"github.com/voxkit/voxkit/internal/health"
	"github.com/voxkit/voxkit/internal/observe"
	"github.com/voxkit/voxkit/internal/session"
	"github.com/voxkit/voxkit/pkg/audio"
	"github.com/voxkit/voxkit/pkg/history"
	historypg "github.com/voxkit/voxkit/pkg/history/postgres"
	"github.com/voxkit/voxkit/pkg/transport"
)

// App owns all subsystem lifetimes of the voxkit client.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	channel session.EventChannel
	player  session.Playback
	capture audio.CaptureSource
	store   history.Store
	sess    *session.Session
	httpSrv *http.Server

	// dialed is set when the app owns a real transport channel; used for
	// readiness checks.
	dialed *transport.Channel

	callbacks session.Callbacks

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithChannel injects a duplex channel instead of dialing the configured
// endpoint.
func WithChannel(ch session.EventChannel) Option {
	return func(a *App) { a.channel = ch }
}

// WithPlayer injects a playback implementation instead of the ffplay-backed
// player.
func WithPlayer(p session.Playback) Option {
	return func(a *App) { a.player = p }
}

// WithCapture injects a capture source instead of spawning the ffmpeg
// microphone recorder.
func WithCapture(c audio.CaptureSource) Option {
	return func(a *App) { a.capture = c }
}

// WithHistory injects a history store instead of creating one from config.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCallbacks overrides the default stdout conversation display.
func WithCallbacks(cb session.Callbacks) Option {
	return func(a *App) { a.callbacks = cb }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		metrics:   observe.DefaultMetrics(),
		callbacks: printerCallbacks(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initChannel(ctx); err != nil {
		return nil, fmt.Errorf("app: init channel: %w", err)
	}
	a.initPlayer()

	enc, err := audio.NewFrameEncoder(cfg.Audio.CaptureSampleRate, cfg.Audio.FrameDuration())
	if err != nil {
		return nil, fmt.Errorf("app: init encoder: %w", err)
	}

	a.sess, err = session.New(session.Config{
		Channel:            a.channel,
		Player:             a.player,
		Encoder:            enc,
		History:            a.store,
		Metrics:            a.metrics,
		Mode:               cfg.Session.Mode,
		FlushPartialFrames: cfg.Session.FlushPartialFrames,
		Callbacks:          a.callbacks,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	return a, nil
}

// Session returns the running conversation session.
func (a *App) Session() *session.Session { return a.sess }

func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.cfg.History.PostgresDSN == "" {
		a.store = history.Nop{}
		return nil
	}
	store, err := historypg.NewStore(ctx, a.cfg.History.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("conversation history enabled")
	return nil
}

func (a *App) initChannel(ctx context.Context) error {
	if a.channel != nil {
		return nil
	}
	ch, err := transport.Dial(ctx, a.cfg.Service.Endpoint,
		transport.WithReconnectDelay(a.cfg.Transport.ReconnectDelay()),
		transport.WithMaxReconnects(a.cfg.Transport.MaxReconnects),
		transport.WithStateListener(func(sc transport.StateChange) {
			if sc.State == transport.StateConnecting && sc.Attempt > 0 {
				a.metrics.Reconnects.Add(context.Background(), 1)
			}
		}),
	)
	if err != nil {
		return err
	}
	a.channel = ch
	a.dialed = ch
	return nil
}

func (a *App) initPlayer() {
	if a.player != nil {
		return
	}
	player := audio.NewPlayer(
		audio.NewFFplaySink(),
		audio.Format{SampleRate: a.cfg.Audio.PlaybackSampleRate, Channels: 1},
	)
	a.player = player
	a.closers = append(a.closers, player.Close)
}

// Run starts the event loop, the capture pipeline, and the optional metrics
// endpoint, then blocks until ctx is cancelled or the channel closes.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.sess.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			return fmt.Errorf("app: session: %w", err)
		}
		// Channel closed terminally; stop the other loops too.
		return context.Canceled
	})

	if err := a.startCapture(ctx); err != nil {
		return err
	}
	g.Go(func() error { return a.captureLoop(ctx) })

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		var checkers []health.Checker
		if a.dialed != nil {
			checkers = append(checkers, health.ChannelChecker(a.dialed))
		}
		if p, ok := a.store.(health.Pinger); ok {
			checkers = append(checkers, health.HistoryChecker(p))
		}
		health.New(checkers...).Register(mux)

		a.httpSrv = &http.Server{Addr: addr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", addr)
			if err := a.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("voxkit running", "mode", a.cfg.Session.Mode)
	return g.Wait()
}

// startCapture spawns the microphone recorder unless one was injected.
func (a *App) startCapture(ctx context.Context) error {
	if a.capture != nil {
		return nil
	}
	src, err := audio.NewFFmpegCapture(ctx, a.cfg.Audio.CaptureSampleRate)
	if err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}
	a.capture = src
	a.closers = append(a.closers, src.Close)
	return nil
}

// captureLoop pumps microphone PCM into the session until the source drains
// or ctx is cancelled.
func (a *App) captureLoop(ctx context.Context) error {
	// One capture frame's worth of bytes per read keeps latency at the frame
	// duration without fragmenting the encoder's input.
	frameBytes := a.cfg.Audio.CaptureSampleRate * 2 * a.cfg.Audio.FrameDurationMS / 1000
	buf := make([]byte, frameBytes)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := a.capture.Read(buf)
		if n > 0 {
			samples := audio.DecodePCM16(buf[:n])
			if err := a.sess.SendAudio(ctx, samples); err != nil {
				return err
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("app: capture read: %w", err)
		}
	}
}

// Shutdown tears down all subsystems in reverse-init order. Safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if err := a.sess.Close(); err != nil {
			errs = append(errs, err)
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// printerCallbacks renders conversation progress on stdout: interims
// overwrite in place, response text streams as it arrives, and each completed
// turn ends with the corrected transcript.
func printerCallbacks() session.Callbacks {
	return session.Callbacks{
		OnInterim: func(text string) {
			fmt.Printf("\r\033[Kyou: %s", text)
		},
		OnResponseDelta: func(content string, complete bool) {
			if content != "" {
				fmt.Print(content)
			}
			if complete {
				fmt.Println()
			}
		},
		OnTurnComplete: func(transcription, response string) {
			fmt.Printf("\r\033[Kyou: %s\n", transcription)
		},
		OnError: func(message string) {
			fmt.Printf("\nservice error: %s\n", message)
		},
	}
}
