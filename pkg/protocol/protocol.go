// Package protocol defines the wire protocol spoken over the voice session's
// duplex channel.
//
// Every message on the channel is either a binary frame of raw little-endian
// 16-bit PCM (client → service only) or a JSON control event discriminated by
// its "type" field. [Parse] turns an inbound JSON payload into one of the typed
// event structs; [Marshal] produces the outbound JSON for client events.
//
// Unknown event types parse to [ErrUnknownType] so that a newer service can add
// message kinds without breaking older clients.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Event type discriminators as they appear on the wire.
const (
	TypeUserAudioEnd         = "user_audio_end"
	TypeInterimTranscription = "interim_transcription"
	TypeAIResponseStream     = "ai_response_stream"
	TypeAudioStreamPCM       = "audio_stream_pcm"
	TypeVoiceResponse        = "voice_response"
	TypeStopAudioPlayback    = "stop_audio_playback"
	TypeError                = "error"
)

// ErrUnknownType is returned by [Parse] for events whose "type" field is not
// recognised. Callers should log and skip such events rather than treating
// them as fatal.
var ErrUnknownType = errors.New("protocol: unknown event type")

// Event is implemented by every typed protocol event.
type Event interface {
	// EventType returns the wire discriminator for this event.
	EventType() string
}

// UserAudioEnd signals the explicit end of user input (push-to-talk release or
// user-initiated end of utterance). Client → service.
type UserAudioEnd struct{}

func (UserAudioEnd) EventType() string { return TypeUserAudioEnd }

// InterimTranscription carries a partial, in-progress transcript of the
// user's current utterance. Display only; supersedes the previous interim.
type InterimTranscription struct {
	Text string `json:"text"`
}

func (InterimTranscription) EventType() string { return TypeInterimTranscription }

// AIResponseStream carries one incremental fragment of the assistant's text
// response. IsComplete marks the end of the turn's text stream; the final
// fragment's Content may be empty.
type AIResponseStream struct {
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

func (AIResponseStream) EventType() string { return TypeAIResponseStream }

// AudioStreamPCM carries one synthesized-audio chunk: base64-encoded
// little-endian 16-bit PCM at the stated sample rate and channel count.
// An empty PCMChunk with IsFinal set is a valid zero-duration end marker.
type AudioStreamPCM struct {
	PCMChunk   string `json:"pcm_chunk"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	IsFinal    bool   `json:"is_final"`
}

func (AudioStreamPCM) EventType() string { return TypeAudioStreamPCM }

// DecodePCM decodes the base64 chunk payload into raw PCM bytes. It returns an
// error for invalid base64 or for a byte count that does not align to whole
// int16 samples.
func (a AudioStreamPCM) DecodePCM() ([]byte, error) {
	if a.PCMChunk == "" {
		return nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(a.PCMChunk)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode pcm chunk: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("protocol: pcm chunk has odd byte count %d", len(pcm))
	}
	return pcm, nil
}

// VoiceResponse is the terminal event for a turn: the final corrected
// transcript of the user's utterance plus the assistant's full response text.
type VoiceResponse struct {
	Transcription string `json:"transcription"`
	AIResponse    string `json:"ai_response"`
}

func (VoiceResponse) EventType() string { return TypeVoiceResponse }

// StopAudioPlayback instructs the client to flush playback immediately
// (barge-in acknowledgement from the service).
type StopAudioPlayback struct{}

func (StopAudioPlayback) EventType() string { return TypeStopAudioPlayback }

// ErrorEvent reports a processing failure for the current turn.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return TypeError }

// envelope is the generic shape used to sniff the discriminator before a
// second, typed unmarshal.
type envelope struct {
	Type string `json:"type"`
}

// Parse decodes an inbound JSON event. It returns [ErrUnknownType] (wrapped)
// when the discriminator is not recognised so callers can skip the event.
func Parse(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case TypeInterimTranscription:
		var e InterimTranscription
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeAIResponseStream:
		var e AIResponseStream
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeAudioStreamPCM:
		var e AudioStreamPCM
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeVoiceResponse:
		var e VoiceResponse
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeStopAudioPlayback:
		ev = StopAudioPlayback{}
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeUserAudioEnd:
		ev = UserAudioEnd{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// Marshal encodes ev as a JSON wire message including its "type" field.
func Marshal(ev Event) ([]byte, error) {
	payload := map[string]any{"type": ev.EventType()}

	// Flatten the event's own fields into the envelope.
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", ev.EventType(), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("protocol: flatten %s: %w", ev.EventType(), err)
	}
	for k, v := range fields {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", ev.EventType(), err)
	}
	return data, nil
}

// EncodePCMChunk builds an [AudioStreamPCM] event from raw PCM bytes.
// Primarily used by test servers that emulate the synthesis service.
func EncodePCMChunk(pcm []byte, sampleRate, channels int, final bool) AudioStreamPCM {
	return AudioStreamPCM{
		PCMChunk:   base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
		Channels:   channels,
		IsFinal:    final,
	}
}
