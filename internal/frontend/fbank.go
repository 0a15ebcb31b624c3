// Package frontend turns PCM samples into log-mel filterbank frames and
// queues them for a decoder.
package frontend

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Config describes the filterbank. FrameLength and FrameShift are in
// samples.
type Config struct {
	NumBins     int `yaml:"num_bins"`
	SampleRate  int `yaml:"sample_rate"`
	FrameLength int `yaml:"frame_length"`
	FrameShift  int `yaml:"frame_shift"`
}

// DefaultConfig is 80-bin fbank over 25ms windows every 10ms at 16kHz.
func DefaultConfig() Config {
	return Config{NumBins: 80, SampleRate: 16000, FrameLength: 400, FrameShift: 160}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumBins <= 0 {
		return fmt.Errorf("frontend: num_bins must be positive, got %d", c.NumBins)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("frontend: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameLength <= 0 || c.FrameShift <= 0 {
		return fmt.Errorf("frontend: frame_length and frame_shift must be positive, got %d and %d", c.FrameLength, c.FrameShift)
	}
	return nil
}

// FrameShiftMs returns the frame shift in milliseconds.
func (c Config) FrameShiftMs() int {
	return c.FrameShift * 1000 / c.SampleRate
}

const (
	preemphCoeff = 0.97
	lowFreq      = 20.0
	// samples arrive in [-1, 1]; fbank energies follow 16-bit PCM scale
	pcmScale = 32768.0
	logFloor = 1.1920928955078125e-07
)

// Fbank computes log-mel energies frame by frame.
type Fbank struct {
	cfg     Config
	fftSize int
	window  []float64
	filters []melFilter
	twiddle [][]complex128
	perm    []int
}

type melFilter struct {
	start  int
	coeffs []float64
}

// NewFbank precomputes the window, filterbank and FFT tables.
func NewFbank(cfg Config) (*Fbank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fftSize := 1
	for fftSize < cfg.FrameLength {
		fftSize <<= 1
	}
	f := &Fbank{cfg: cfg, fftSize: fftSize}

	f.window = make([]float64, cfg.FrameLength)
	for i := range f.window {
		if cfg.FrameLength == 1 {
			f.window[i] = 1
			continue
		}
		f.window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(cfg.FrameLength-1))
	}

	f.filters = melFilters(cfg.NumBins, fftSize, cfg.SampleRate)

	bits := 0
	for v := fftSize; v > 1; v >>= 1 {
		bits++
	}
	f.perm = make([]int, fftSize)
	for i := range f.perm {
		f.perm[i] = bitReverse(i, bits)
	}
	for size := 2; size <= fftSize; size *= 2 {
		half := size / 2
		tw := make([]complex128, half)
		w := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		wn := complex(1, 0)
		for k := range tw {
			tw[k] = wn
			wn *= w
		}
		f.twiddle = append(f.twiddle, tw)
	}
	return f, nil
}

// Dim returns the feature dimension.
func (f *Fbank) Dim() int { return f.cfg.NumBins }

// NumFrames returns how many whole frames n samples hold.
func (f *Fbank) NumFrames(n int) int {
	if n < f.cfg.FrameLength {
		return 0
	}
	return 1 + (n-f.cfg.FrameLength)/f.cfg.FrameShift
}

// Compute returns one feature vector per whole frame of samples. Trailing
// samples that do not fill a frame are ignored.
func (f *Fbank) Compute(samples []float32) [][]float32 {
	n := f.NumFrames(len(samples))
	out := make([][]float32, n)
	frame := make([]float64, f.cfg.FrameLength)
	buf := make([]complex128, f.fftSize)
	for i := 0; i < n; i++ {
		start := i * f.cfg.FrameShift
		var mean float64
		for j := range frame {
			frame[j] = float64(samples[start+j]) * pcmScale
			mean += frame[j]
		}
		mean /= float64(len(frame))
		for j := range frame {
			frame[j] -= mean
		}
		for j := len(frame) - 1; j > 0; j-- {
			frame[j] -= preemphCoeff * frame[j-1]
		}
		frame[0] -= preemphCoeff * frame[0]

		for j := range buf {
			buf[j] = 0
		}
		for j, v := range frame {
			buf[f.perm[j]] = complex(v*f.window[j], 0)
		}
		f.fft(buf)
		out[i] = f.melEnergies(buf)
	}
	return out
}

// fft transforms buf in place; buf must already be in bit-reversed order.
func (f *Fbank) fft(buf []complex128) {
	stage := 0
	for size := 2; size <= len(buf); size *= 2 {
		half := size / 2
		tw := f.twiddle[stage]
		for start := 0; start < len(buf); start += size {
			for k := 0; k < half; k++ {
				u := buf[start+k]
				t := tw[k] * buf[start+k+half]
				buf[start+k] = u + t
				buf[start+k+half] = u - t
			}
		}
		stage++
	}
}

func (f *Fbank) melEnergies(spec []complex128) []float32 {
	out := make([]float32, len(f.filters))
	for i, mf := range f.filters {
		var sum float64
		for j, c := range mf.coeffs {
			v := spec[mf.start+j]
			sum += c * (real(v)*real(v) + imag(v)*imag(v))
		}
		out[i] = float32(math.Log(max(sum, logFloor)))
	}
	return out
}

func melFilters(numBins, fftSize, sampleRate int) []melFilter {
	nyquist := float64(sampleRate) / 2
	lowMel, highMel := hzToMel(lowFreq), hzToMel(nyquist)
	step := (highMel - lowMel) / float64(numBins+1)
	binHz := float64(sampleRate) / float64(fftSize)

	filters := make([]melFilter, numBins)
	for i := range filters {
		left := lowMel + float64(i)*step
		center := left + step
		right := center + step
		var mf melFilter
		for k := 0; k <= fftSize/2; k++ {
			mel := hzToMel(float64(k) * binHz)
			var w float64
			switch {
			case mel > left && mel <= center:
				w = (mel - left) / (center - left)
			case mel > center && mel < right:
				w = (right - mel) / (right - center)
			}
			if w <= 0 {
				continue
			}
			// the triangle is contiguous in k since mel is monotonic
			if mf.coeffs == nil {
				mf.start = k
			}
			mf.coeffs = append(mf.coeffs, w)
		}
		filters[i] = mf
	}
	return filters
}

func hzToMel(hz float64) float64 { return 1127.0 * math.Log(1.0+hz/700.0) }

func bitReverse(x, bits int) int {
	var r int
	for i := 0; i < bits; i++ {
		r = (r << 1) | (x & 1)
		x >>= 1
	}
	return r
}
