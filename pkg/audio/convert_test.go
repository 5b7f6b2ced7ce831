package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxkit/voxkit/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	// Two max-positive samples should clamp to 32767 (not overflow).
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 24000, 24000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 2:1 downsample keeps every other sample position.
	pcm := samplesToBytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})
	out := audio.ResampleMono16(pcm, 48000, 24000)
	got := bytesToSamples(out)
	if len(got) != 4 {
		t.Fatalf("sample count: got %d, want 4", len(got))
	}
	want := []int16{0, 200, 400, 600}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 1000})
	out := audio.ResampleMono16(pcm, 12000, 24000)
	got := bytesToSamples(out)
	if len(got) != 4 {
		t.Fatalf("sample count: got %d, want 4", len(got))
	}
	// Linear interpolation midpoint between 0 and 1000.
	if got[1] != 500 {
		t.Errorf("interpolated sample: got %d, want 500", got[1])
	}
}

func TestFormatConverter_Passthrough(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	pcm := samplesToBytes([]int16{1, 2, 3})
	out := conv.Convert(pcm, audio.Format{SampleRate: 24000, Channels: 1})
	if &out[0] != &pcm[0] {
		t.Error("matching format should return the input slice unchanged")
	}
}

func TestFormatConverter_StereoAndRate(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	// 48 kHz stereo input: four frames of identical L/R samples.
	pcm := samplesToBytes([]int16{100, 100, 200, 200, 300, 300, 400, 400})
	out := conv.Convert(pcm, audio.Format{SampleRate: 48000, Channels: 2})
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("sample count: got %d, want 2", len(got))
	}
	want := []int16{100, 300}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
