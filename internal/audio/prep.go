package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"emovoice/internal/domain"
)

const DefaultSampleRate = 16000

type PrepConfig struct {
	SampleRate     int
	FrameDuration  time.Duration
	HopDuration    time.Duration
	MinSpeech      time.Duration
	SegmentGap     time.Duration
	SilenceFloor   float64
	VADPercentile  float64
	NoiseGateRatio float64
	PeakTarget     float64
	CompThreshold  float64
	CompRatio      float64
	OutputDir      string
}

func DefaultPrepConfig() PrepConfig {
	return PrepConfig{
		SampleRate:     DefaultSampleRate,
		FrameDuration:  25 * time.Millisecond,
		HopDuration:    10 * time.Millisecond,
		MinSpeech:      500 * time.Millisecond,
		SegmentGap:     50 * time.Millisecond,
		SilenceFloor:   0.01,
		VADPercentile:  0.30,
		NoiseGateRatio: 0.02,
		PeakTarget:     0.95,
		CompThreshold:  0.5,
		CompRatio:      3,
		OutputDir:      os.TempDir(),
	}
}

// Segment is a half-open [Start, End) sample range of detected speech.
type Segment struct {
	Start int
	End   int
}

// Prep turns an uploaded recording into a clean, speech-only mono clip.
type Prep struct {
	cfg    PrepConfig
	logger *slog.Logger
}

func NewPrep(cfg PrepConfig, logger *slog.Logger) *Prep {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultPrepConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = def.FrameDuration
	}
	if cfg.HopDuration <= 0 {
		cfg.HopDuration = def.HopDuration
	}
	if cfg.PeakTarget <= 0 || cfg.PeakTarget > 1 {
		cfg.PeakTarget = def.PeakTarget
	}
	if cfg.CompRatio < 1 {
		cfg.CompRatio = def.CompRatio
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	return &Prep{cfg: cfg, logger: logger}
}

// Clean loads path, removes DC and low-level noise, keeps only detected
// speech, normalizes and compresses, and writes the result as a new WAV
// file. The input file is never modified.
func (p *Prep) Clean(ctx context.Context, path string) (Clip, string, error) {
	clip, err := LoadWAV(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Clip{}, "", fmt.Errorf("%w: audio file %s not found", domain.ErrInvalidInput, path)
		}
		return Clip{}, "", err
	}
	if len(clip.Samples) == 0 {
		return Clip{}, "", fmt.Errorf("%w: audio file %s has no samples", domain.ErrInvalidInput, path)
	}
	if err := ctx.Err(); err != nil {
		return Clip{}, "", err
	}

	clip = Resample(clip, p.cfg.SampleRate)
	samples := RemoveDC(clip.Samples)
	samples = NoiseGate(samples, p.cfg.NoiseGateRatio)

	segments := p.DetectSpeech(samples, clip.SampleRate)
	voiced := p.join(samples, segments, clip.SampleRate)
	if len(segments) == 0 {
		p.logger.Warn("no voice segments found, keeping full recording", "path", path)
	}

	voiced = NormalizePeak(voiced, p.cfg.PeakTarget)
	voiced = NormalizePeak(Compress(voiced, p.cfg.CompThreshold, p.cfg.CompRatio), p.cfg.PeakTarget)
	out := Clip{Samples: voiced, SampleRate: clip.SampleRate}

	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return Clip{}, "", fmt.Errorf("create audio output dir: %w", err)
	}
	cleanPath := filepath.Join(p.cfg.OutputDir, "clean-"+uuid.NewString()+".wav")
	if err := WriteWAV(cleanPath, out); err != nil {
		return Clip{}, "", fmt.Errorf("write cleaned audio: %w", err)
	}

	p.logger.Info("audio prepared",
		"input_seconds", clip.Duration().Seconds(),
		"output_seconds", out.Duration().Seconds(),
		"segments", len(segments),
	)
	return out, cleanPath, nil
}

// DetectSpeech runs an energy VAD: frames whose RMS, normalized to the
// loudest frame, exceeds max(silence floor, percentile) are speech. Runs
// shorter than MinSpeech are dropped.
func (p *Prep) DetectSpeech(samples []float64, sampleRate int) []Segment {
	frameLen := int(p.cfg.FrameDuration.Seconds() * float64(sampleRate))
	hop := int(p.cfg.HopDuration.Seconds() * float64(sampleRate))
	if frameLen <= 0 || hop <= 0 || len(samples) == 0 {
		return nil
	}

	rms := FrameRMS(samples, frameLen, hop)
	peak := floats.Max(rms)
	for i := range rms {
		rms[i] /= peak + 1e-10
	}

	sorted := append([]float64(nil), rms...)
	sort.Float64s(sorted)
	threshold := math.Max(p.cfg.SilenceFloor, stat.Quantile(p.cfg.VADPercentile, stat.LinInterp, sorted, nil))

	minFrames := p.cfg.MinSpeech.Seconds() * float64(sampleRate) / float64(hop)
	var out []Segment
	start, inSpeech := 0, false
	for i, v := range rms {
		speech := v > threshold
		switch {
		case speech && !inSpeech:
			start, inSpeech = i, true
		case !speech && inSpeech:
			if float64(i-start) >= minFrames {
				out = append(out, Segment{Start: start * hop, End: i * hop})
			}
			inSpeech = false
		}
	}
	if inSpeech && float64(len(rms)-start) >= minFrames {
		out = append(out, Segment{Start: start * hop, End: len(samples)})
	}
	return out
}

func (p *Prep) join(samples []float64, segments []Segment, sampleRate int) []float64 {
	if len(segments) == 0 {
		return append([]float64(nil), samples...)
	}
	gap := int(p.cfg.SegmentGap.Seconds() * float64(sampleRate))
	var out []float64
	for _, s := range segments {
		end := s.End
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, samples[s.Start:end]...)
		out = append(out, make([]float64, gap)...)
	}
	return out
}

// FrameRMS returns the RMS energy of each frame.
func FrameRMS(samples []float64, frameLen, hop int) []float64 {
	if len(samples) == 0 || frameLen <= 0 || hop <= 0 {
		return nil
	}
	n := 1
	if len(samples) > frameLen {
		n = 1 + (len(samples)-frameLen)/hop
	}
	out := make([]float64, n)
	for i := range out {
		start := i * hop
		end := start + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		frame := samples[start:end]
		out[i] = math.Sqrt(floats.Dot(frame, frame) / float64(len(frame)))
	}
	return out
}

func RemoveDC(samples []float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	mean := stat.Mean(samples, nil)
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s - mean
	}
	return out
}

// NoiseGate zeroes samples whose magnitude is below ratio of the peak.
func NoiseGate(samples []float64, ratio float64) []float64 {
	out := append([]float64(nil), samples...)
	if ratio <= 0 || len(out) == 0 {
		return out
	}
	floor := peakAbs(out) * ratio
	for i, s := range out {
		if math.Abs(s) < floor {
			out[i] = 0
		}
	}
	return out
}

func NormalizePeak(samples []float64, target float64) []float64 {
	out := append([]float64(nil), samples...)
	peak := peakAbs(out)
	if peak == 0 {
		return out
	}
	floats.Scale(target/peak, out)
	return out
}

// Compress applies soft-knee compression above threshold.
func Compress(samples []float64, threshold, ratio float64) []float64 {
	out := append([]float64(nil), samples...)
	if ratio <= 1 {
		return out
	}
	for i, s := range out {
		a := math.Abs(s)
		if a > threshold {
			out[i] = math.Copysign(threshold+(a-threshold)/ratio, s)
		}
	}
	return out
}

func peakAbs(samples []float64) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}
