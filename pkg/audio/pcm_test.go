package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxquiz/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "stereo", in: []int16{100, 200, -100, -200}, channels: 2, want: []int16{150, -150}},
		{name: "mono passthrough", in: []int16{1, 2, 3}, channels: 1, want: []int16{1, 2, 3}},
		{name: "stereo clamp", in: []int16{32767, 32767}, channels: 2, want: []int16{32767}},
		{name: "three channels", in: []int16{30, 60, 90}, channels: 3, want: []int16{60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.Downmix(samplesToBytes(tt.in), tt.channels))
			if len(got) != len(tt.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResampleMono16_Halves(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})
	got := bytesToSamples(audio.ResampleMono16(in, 32000, 16000))
	want := []int16{0, 200, 400, 600}
	if len(got) != len(want) {
		t.Fatalf("length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input slice")
	}
}

func TestNormalizer(t *testing.T) {
	t.Parallel()

	n := &audio.Normalizer{SampleRate: 16000}

	t.Run("passthrough", func(t *testing.T) {
		f := audio.AudioFrame{Data: samplesToBytes([]int16{5, 6}), SampleRate: 16000, Channels: 1}
		got := n.Normalize(f)
		if len(got.Data) != 4 || got.SampleRate != 16000 || got.Channels != 1 {
			t.Errorf("unexpected frame: %+v", got)
		}
	})

	t.Run("stereo 32k to mono 16k", func(t *testing.T) {
		f := audio.AudioFrame{
			Data:       samplesToBytes([]int16{100, 100, 200, 200, 300, 300, 400, 400}),
			SampleRate: 32000,
			Channels:   2,
		}
		got := n.Normalize(f)
		if got.SampleRate != 16000 || got.Channels != 1 {
			t.Fatalf("format: got %dHz %dch", got.SampleRate, got.Channels)
		}
		if s := bytesToSamples(got.Data); len(s) != 2 || s[0] != 100 || s[1] != 300 {
			t.Errorf("samples: got %v, want [100 300]", s)
		}
	})

	t.Run("misaligned dropped", func(t *testing.T) {
		got := n.Normalize(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if got.Data != nil {
			t.Errorf("expected nil data for misaligned frame, got %d bytes", len(got.Data))
		}
	})
}

func TestMeanAmplitude(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []int16
		want float64
	}{
		{name: "empty", in: nil, want: 0},
		{name: "silence", in: []int16{0, 0, 0}, want: 0},
		{name: "symmetric", in: []int16{16384, -16384}, want: 0.5},
		{name: "full scale negative", in: []int16{-32768}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.MeanAmplitude(samplesToBytes(tt.in))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	got := audio.RMS(samplesToBytes([]int16{3000, -3000, 3000, -3000}))
	if math.Abs(got-3000) > 1e-9 {
		t.Errorf("RMS: got %f, want 3000", got)
	}
	if audio.RMS([]byte{1}) != 0 {
		t.Error("RMS of a partial sample should be 0")
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	pcm := make([]byte, 16000*2)
	if got := audio.Duration(pcm, 16000); got != time.Second {
		t.Errorf("Duration: got %v, want 1s", got)
	}
	if got := audio.Duration(pcm, 0); got != 0 {
		t.Errorf("Duration with zero rate: got %v, want 0", got)
	}
	if got := audio.BytesPerFrame(16000, 30); got != 960 {
		t.Errorf("BytesPerFrame: got %d, want 960", got)
	}
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("length: got %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("missing RIFF/WAVE/data markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
}
