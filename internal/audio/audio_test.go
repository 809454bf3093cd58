package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/domain"
)

func tone(freq, amp float64, d time.Duration, rate int) []float64 {
	n := int(d.Seconds() * float64(rate))
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func silence(d time.Duration, rate int) []float64 {
	return make([]float64, int(d.Seconds()*float64(rate)))
}

func TestWAVRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
	}{
		{name: "tone", samples: tone(220, 0.5, 200*time.Millisecond, 16000)},
		{name: "odd length", samples: tone(440, 0.8, time.Second, 16000)[:4097]},
		{name: "one second", samples: tone(100, -0.3, time.Second, 16000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "clip.wav")
			require.NoError(t, WriteWAV(path, Clip{Samples: tt.samples, SampleRate: 16000}))

			out, err := LoadWAV(path)
			require.NoError(t, err)
			assert.Equal(t, 16000, out.SampleRate)
			require.Len(t, out.Samples, len(tt.samples))
			for i := 0; i < len(tt.samples); i += 97 {
				assert.InDelta(t, tt.samples[i], out.Samples[i], 1e-3, "sample %d", i)
			}
		})
	}
}

func TestReadWAVScalesToUnitRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.wav")
	in := []float64{0, 0, 1, -1, 0.5, -0.5, 0, 0, 0}
	require.NoError(t, WriteWAV(path, Clip{Samples: in, SampleRate: 8000}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out, err := ReadWAV(bytes.NewBuffer(data))
	require.NoError(t, err)
	assert.InDeltaSlice(t, in, out.Samples, 1e-3)
	assert.Equal(t, 0.0, out.Samples[0])
}

func TestSilenceFileHasNoEnergy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiet.wav")
	require.NoError(t, WriteWAV(path, Clip{Samples: make([]float64, 16001), SampleRate: 16000}))

	clip, err := LoadWAV(path)
	require.NoError(t, err)
	require.Len(t, clip.Samples, 16001)
	f := ExtractFeatures(clip)
	assert.Equal(t, 0.0, f.EnergyMean)
	assert.Equal(t, 0, f.VoicedFrames)
}

func TestSampleScaler(t *testing.T) {
	u8, err := sampleScaler(formatPCM, 8)
	require.NoError(t, err)
	assert.Equal(t, 0.0, u8(128))
	assert.Equal(t, -1.0, u8(0))

	s24, err := sampleScaler(formatPCM, 24)
	require.NoError(t, err)
	assert.Equal(t, -1.0, s24(-1<<23))

	f32, err := sampleScaler(formatIEEEFloat, 32)
	require.NoError(t, err)
	assert.Equal(t, 0.25, f32(int(math.Float32bits(0.25))))

	_, err = sampleScaler(formatPCM, 4)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	_, err := ReadWAV(bytes.NewReader([]byte("not a wav file at all")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestResample(t *testing.T) {
	in := Clip{Samples: tone(100, 0.5, time.Second, 44100), SampleRate: 44100}
	out := Resample(in, 16000)
	assert.Equal(t, 16000, out.SampleRate)
	assert.InDelta(t, 16000, len(out.Samples), 1)
	assert.InDelta(t, in.Duration().Seconds(), out.Duration().Seconds(), 1e-3)

	same := Resample(in, 44100)
	assert.Equal(t, len(in.Samples), len(same.Samples))
}

func TestCompressAndNormalize(t *testing.T) {
	got := Compress([]float64{0.2, 0.8, -0.8, -0.2}, 0.5, 3)
	assert.InDeltaSlice(t, []float64{0.2, 0.6, -0.6, -0.2}, got, 1e-12)

	norm := NormalizePeak([]float64{0.1, -0.5, 0.25}, 0.95)
	assert.InDeltaSlice(t, []float64{0.19, -0.95, 0.475}, norm, 1e-12)

	assert.Equal(t, []float64{0, 0}, NormalizePeak([]float64{0, 0}, 0.95))
}

func TestRemoveDCAndNoiseGate(t *testing.T) {
	centered := RemoveDC([]float64{1.5, 0.5, 1.5, 0.5})
	assert.InDeltaSlice(t, []float64{0.5, -0.5, 0.5, -0.5}, centered, 1e-12)

	gated := NoiseGate([]float64{1, 0.01, -0.5, -0.001}, 0.02)
	assert.Equal(t, []float64{1, 0, -0.5, 0}, gated)
}

func TestDetectSpeechDropsSilenceAndShortBursts(t *testing.T) {
	const rate = 16000
	var samples []float64
	samples = append(samples, silence(500*time.Millisecond, rate)...)
	samples = append(samples, tone(200, 0.6, time.Second, rate)...)
	samples = append(samples, silence(500*time.Millisecond, rate)...)
	samples = append(samples, tone(200, 0.6, 100*time.Millisecond, rate)...)
	samples = append(samples, silence(500*time.Millisecond, rate)...)

	p := NewPrep(DefaultPrepConfig(), nil)
	segments := p.DetectSpeech(samples, rate)
	require.Len(t, segments, 1)
	assert.InDelta(t, rate/2, segments[0].Start, float64(rate)/20)
	assert.InDelta(t, rate*3/2, segments[0].End, float64(rate)/20)
}

func TestCleanWritesSpeechOnlyClip(t *testing.T) {
	const rate = 16000
	dir := t.TempDir()
	var samples []float64
	samples = append(samples, silence(time.Second, rate)...)
	samples = append(samples, tone(180, 0.3, 1500*time.Millisecond, rate)...)
	samples = append(samples, silence(time.Second, rate)...)

	input := filepath.Join(dir, "input.wav")
	require.NoError(t, WriteWAV(input, Clip{Samples: samples, SampleRate: rate}))
	before, err := os.ReadFile(input)
	require.NoError(t, err)

	cfg := DefaultPrepConfig()
	cfg.OutputDir = filepath.Join(dir, "out")
	clip, path, err := NewPrep(cfg, nil).Clean(context.Background(), input)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.NotEqual(t, input, path)
	assert.Less(t, clip.Duration(), 2*time.Second)
	assert.Greater(t, clip.Duration(), time.Second)
	assert.InDelta(t, 0.95, peakAbs(clip.Samples), 1e-9)

	after, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCleanMissingFile(t *testing.T) {
	_, _, err := NewPrep(DefaultPrepConfig(), nil).Clean(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestExtractFeaturesTone(t *testing.T) {
	clip := Clip{Samples: tone(200, 0.5, time.Second, 16000), SampleRate: 16000}
	f := ExtractFeatures(clip)

	assert.InDelta(t, 0.5/math.Sqrt2, f.EnergyMean, 0.01)
	assert.InDelta(t, 200, f.PitchMean, 10)
	assert.Less(t, f.PitchStd, 10.0)
	assert.InDelta(t, 2*200.0/16000, f.ZCRMean, 0.005)
	assert.Greater(t, f.CentroidMean, 100.0)
	assert.Less(t, f.CentroidMean, 600.0)
	assert.Greater(t, f.VoicedFrames, 0)
}

func TestExtractFeaturesSilence(t *testing.T) {
	f := ExtractFeatures(Clip{Samples: silence(time.Second, 16000), SampleRate: 16000})
	assert.Equal(t, 0.0, f.EnergyMean)
	assert.Equal(t, 150.0, f.PitchMean)
	assert.Equal(t, 30.0, f.PitchStd)
	assert.Equal(t, 0, f.VoicedFrames)

	assert.Equal(t, DefaultFeatures(), ExtractFeatures(Clip{}))
}
