// Package audio provides the client-side audio pipeline: fixed-size frame
// encoding of captured samples, PCM format conversion, device capture and
// playback sinks, and the scheduled playback engine that renders synthesized
// audio chunks gap-free.
//
// The two primary abstractions are:
//
//   - [FrameEncoder] turns a continuous stream of floating-point samples into
//     immutable fixed-duration [Frame] values ready for network transmission.
//   - [Player] schedules arriving PCM chunks against an output clock so they
//     play back-to-back, and can be flushed instantly on barge-in.
//
// This package lives under pkg/ because device adapters (capture sources and
// playback sinks) are expected to be implemented outside of it.
package audio

import (
	"fmt"
	"time"
)

const (
	// DefaultCaptureRate is the microphone sample rate in Hz.
	DefaultCaptureRate = 16000

	// DefaultFrameDuration is the reference frame length. 100 ms balances
	// capture latency against per-message framing overhead.
	DefaultFrameDuration = 100 * time.Millisecond
)

// Frame is one fixed-size block of little-endian 16-bit mono PCM produced by a
// [FrameEncoder]. A Frame is never mutated after creation; the PCM slice is
// owned by the frame and must not be written to by consumers.
type Frame struct {
	// PCM holds the little-endian int16 samples (2 bytes per sample).
	PCM []byte

	// Samples is the number of samples in PCM.
	Samples int

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples) * time.Second / time.Duration(f.SampleRate)
}

// FrameEncoder accumulates floating-point sample batches and emits one
// immutable [Frame] each time a full frame's worth of samples is buffered.
// Samples are clamped to [-1, 1] and quantized to int16.
//
// Create one per capture stream; not safe for concurrent use.
type FrameEncoder struct {
	sampleRate   int
	frameSamples int
	buf          []int16
}

// NewFrameEncoder creates an encoder producing frames of frameDuration length
// at sampleRate Hz. Returns an error if the resulting frame size is not a
// whole positive number of samples.
func NewFrameEncoder(sampleRate int, frameDuration time.Duration) (*FrameEncoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate %d must be positive", sampleRate)
	}
	samples := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	if samples <= 0 {
		return nil, fmt.Errorf("audio: frame duration %v too short for %d Hz", frameDuration, sampleRate)
	}
	return &FrameEncoder{
		sampleRate:   sampleRate,
		frameSamples: samples,
		buf:          make([]int16, 0, samples),
	}, nil
}

// FrameSamples returns the configured number of samples per frame.
func (e *FrameEncoder) FrameSamples() int { return e.frameSamples }

// Encode appends batch to the internal buffer and returns every complete frame
// that became available, in capture order. Values outside [-1, 1] are clamped
// before quantization. A batch may produce zero, one, or several frames.
func (e *FrameEncoder) Encode(batch []float32) []Frame {
	var frames []Frame
	for _, v := range batch {
		e.buf = append(e.buf, quantize(v))
		if len(e.buf) == e.frameSamples {
			frames = append(frames, e.emit())
		}
	}
	return frames
}

// Pending returns the number of buffered samples that have not yet filled a
// complete frame.
func (e *FrameEncoder) Pending() int { return len(e.buf) }

// Flush returns the buffered partial remainder as an undersized frame and
// resets the buffer. The second return value is false when the buffer is
// empty. The default end-of-stream policy discards the remainder instead of
// flushing it; see the session's partial-frame configuration.
func (e *FrameEncoder) Flush() (Frame, bool) {
	if len(e.buf) == 0 {
		return Frame{}, false
	}
	f := e.frameFromBuf()
	e.buf = e.buf[:0]
	return f, true
}

// Reset discards any buffered partial samples.
func (e *FrameEncoder) Reset() { e.buf = e.buf[:0] }

// emit builds a full frame from the buffer and resets it.
func (e *FrameEncoder) emit() Frame {
	f := e.frameFromBuf()
	e.buf = e.buf[:0]
	return f
}

// frameFromBuf copies the current buffer into a fresh immutable frame.
func (e *FrameEncoder) frameFromBuf() Frame {
	pcm := make([]byte, len(e.buf)*2)
	for i, s := range e.buf {
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return Frame{PCM: pcm, Samples: len(e.buf), SampleRate: e.sampleRate}
}

// quantize clamps v to [-1, 1] and converts it to a signed 16-bit sample.
func quantize(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// DecodePCM16 converts little-endian int16 PCM bytes into normalized
// floating-point samples in [-1, 1]. A trailing odd byte is ignored.
// Used to feed device capture bytes into a [FrameEncoder].
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(pcm[i]) | int16(pcm[i+1])<<8
		out = append(out, float32(s)/32768)
	}
	return out
}
