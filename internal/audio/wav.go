package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"emovoice/internal/domain"
)

const (
	formatPCM       = 1
	formatIEEEFloat = 3
	writeBitDepth   = 16
)

// Clip is a mono signal with samples in [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// ReadWAV decodes PCM or IEEE float WAV data and downmixes it to mono.
func ReadWAV(r io.Reader) (Clip, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return Clip{}, fmt.Errorf("read wav: %w", err)
		}
		rs = bytes.NewReader(data)
	}

	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: not a valid wav file", domain.ErrInvalidInput)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read wav samples: %w", err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	scale, err := sampleScaler(int(dec.WavAudioFormat), int(dec.BitDepth))
	if err != nil {
		return Clip{}, err
	}

	mono := make([]float64, len(buf.Data)/channels)
	for i := range mono {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += scale(buf.Data[i*channels+ch])
		}
		mono[i] = sum / float64(channels)
	}
	return Clip{Samples: mono, SampleRate: int(dec.SampleRate)}, nil
}

// sampleScaler maps decoded integer samples to [-1, 1]. 8-bit PCM is
// unsigned; float data arrives as raw IEEE bits.
func sampleScaler(format, bitDepth int) (func(int) float64, error) {
	switch {
	case format == formatIEEEFloat && bitDepth == 32:
		return func(v int) float64 {
			return float64(math.Float32frombits(uint32(v)))
		}, nil
	case bitDepth == 8:
		return func(v int) float64 { return float64(v-128) / 128 }, nil
	case bitDepth > 8 && bitDepth <= 32:
		full := float64(int64(1) << (bitDepth - 1))
		return func(v int) float64 { return float64(v) / full }, nil
	default:
		return nil, fmt.Errorf("%w: unsupported wav format %d with %d bits", domain.ErrInvalidInput, format, bitDepth)
	}
}

func LoadWAV(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()
	return ReadWAV(f)
}

// WriteWAV stores the clip as a 16-bit PCM mono WAV file.
func WriteWAV(path string, c Clip) error {
	sampleRate := c.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		data[i] = int(toPCM16(s))
	}
	enc := wav.NewEncoder(f, sampleRate, writeBitDepth, 1, formatPCM)
	err = enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: writeBitDepth,
	})
	if err == nil {
		err = enc.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}

// PCM16LE returns the raw little-endian 16-bit samples without a header.
func PCM16LE(c Clip) []byte {
	out := make([]byte, 2*len(c.Samples))
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(toPCM16(s)))
	}
	return out
}

func toPCM16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		s = 1
	}
	if s < -1 {
		s = -1
	}
	return int16(math.Round(s * math.MaxInt16))
}

// Resample converts the clip to rate by linear interpolation.
func Resample(c Clip, rate int) Clip {
	if rate <= 0 || c.SampleRate <= 0 || c.SampleRate == rate || len(c.Samples) == 0 {
		return c
	}
	ratio := float64(c.SampleRate) / float64(rate)
	n := int(math.Floor(float64(len(c.Samples)) / ratio))
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	last := len(c.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = c.Samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = c.Samples[j]*(1-frac) + c.Samples[j+1]*frac
	}
	return Clip{Samples: out, SampleRate: rate}
}
