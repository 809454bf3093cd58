package audio

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

const (
	FeatureFrame = 2048
	FeatureHop   = 512

	minPitchHz = 70
	maxPitchHz = 400
	// voicing is the normalized autocorrelation a frame needs to count as pitched.
	voicing = 0.3
)

// Features are clip-level prosody statistics.
type Features struct {
	EnergyMean   float64 `json:"energy_mean"`
	EnergyStd    float64 `json:"energy_std"`
	PitchMean    float64 `json:"pitch_mean"`
	PitchStd     float64 `json:"pitch_std"`
	ZCRMean      float64 `json:"zcr_mean"`
	CentroidMean float64 `json:"centroid_mean"`
	VoicedFrames int     `json:"voiced_frames"`
}

// DefaultFeatures are used for clips too short to measure.
func DefaultFeatures() Features {
	return Features{
		EnergyMean:   0.1,
		PitchMean:    150,
		PitchStd:     30,
		ZCRMean:      0.05,
		CentroidMean: 2000,
	}
}

// ExtractFeatures measures energy, pitch, zero-crossing rate and spectral
// centroid over FeatureFrame-sample frames.
func ExtractFeatures(c Clip) Features {
	if len(c.Samples) == 0 || c.SampleRate <= 0 {
		return DefaultFeatures()
	}
	frames := frameSlices(c.Samples, FeatureFrame, FeatureHop)

	energy := make([]float64, 0, len(frames))
	zcr := make([]float64, 0, len(frames))
	centroid := make([]float64, 0, len(frames))
	var pitches []float64

	for _, frame := range frames {
		energy = append(energy, rms(frame))
		zcr = append(zcr, zeroCrossingRate(frame))

		spectrum := fft.FFTReal(hann(frame))
		centroid = append(centroid, spectralCentroid(spectrum, c.SampleRate))
		if f0, ok := pitchFromSpectrum(spectrum, c.SampleRate); ok {
			pitches = append(pitches, f0)
		}
	}

	out := Features{
		ZCRMean:      stat.Mean(zcr, nil),
		CentroidMean: stat.Mean(centroid, nil),
		VoicedFrames: len(pitches),
	}
	out.EnergyMean, out.EnergyStd = stat.PopMeanStdDev(energy, nil)
	if len(pitches) > 0 {
		out.PitchMean, out.PitchStd = stat.PopMeanStdDev(pitches, nil)
	} else {
		def := DefaultFeatures()
		out.PitchMean, out.PitchStd = def.PitchMean, def.PitchStd
	}
	return out
}

func frameSlices(samples []float64, frameLen, hop int) [][]float64 {
	if len(samples) <= frameLen {
		frame := make([]float64, frameLen)
		copy(frame, samples)
		return [][]float64{frame}
	}
	n := 1 + (len(samples)-frameLen)/hop
	out := make([][]float64, n)
	for i := range out {
		out[i] = samples[i*hop : i*hop+frameLen]
	}
	return out
}

var hannWindow = func() []float64 {
	w := make([]float64, FeatureFrame)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(FeatureFrame))
	}
	return w
}()

func hann(frame []float64) []float64 {
	out := make([]float64, len(frame))
	for i, s := range frame {
		out[i] = s * hannWindow[i]
	}
	return out
}

func rms(frame []float64) float64 {
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func zeroCrossingRate(frame []float64) float64 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame))
}

func spectralCentroid(spectrum []complex128, sampleRate int) float64 {
	half := len(spectrum)/2 + 1
	binHz := float64(sampleRate) / float64(len(spectrum))
	var weighted, total float64
	for k := 0; k < half; k++ {
		mag := cmplx.Abs(spectrum[k])
		weighted += float64(k) * binHz * mag
		total += mag
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// pitchFromSpectrum estimates F0 from the autocorrelation, computed as the
// inverse transform of the power spectrum.
func pitchFromSpectrum(spectrum []complex128, sampleRate int) (float64, bool) {
	power := make([]complex128, len(spectrum))
	for i, v := range spectrum {
		power[i] = complex(real(v)*real(v)+imag(v)*imag(v), 0)
	}
	ac := fft.IFFT(power)
	zero := real(ac[0])
	if zero <= 1e-9 {
		return 0, false
	}

	minLag := sampleRate / maxPitchHz
	maxLag := sampleRate / minPitchHz
	if maxLag >= len(ac) {
		maxLag = len(ac) - 1
	}
	bestLag, best := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		if v := real(ac[lag]); v > best {
			bestLag, best = lag, v
		}
	}
	if bestLag == 0 || best/zero < voicing {
		return 0, false
	}
	return float64(sampleRate) / float64(bestLag), true
}
