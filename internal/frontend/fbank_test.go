package frontend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, hz float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(rate)))
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.NumBins = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.FrameShift = 0
	assert.Error(t, bad.Validate())

	assert.Equal(t, 10, DefaultConfig().FrameShiftMs())
}

func TestFbankNumFrames(t *testing.T) {
	f, err := NewFbank(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 0, f.NumFrames(399))
	assert.Equal(t, 1, f.NumFrames(400))
	assert.Equal(t, 1, f.NumFrames(559))
	assert.Equal(t, 2, f.NumFrames(560))
}

func TestFbankSilenceIsFloor(t *testing.T) {
	f, err := NewFbank(DefaultConfig())
	require.NoError(t, err)

	feats := f.Compute(make([]float32, 800))
	require.Len(t, feats, 3)
	for _, frame := range feats {
		require.Len(t, frame, 80)
		for _, v := range frame {
			assert.InDelta(t, math.Log(logFloor), v, 1e-4)
		}
	}
}

func TestFbankSinePeaksAtItsFrequency(t *testing.T) {
	cfg := DefaultConfig()
	f, err := NewFbank(cfg)
	require.NoError(t, err)

	feats := f.Compute(sine(1600, 1000, cfg.SampleRate))
	require.NotEmpty(t, feats)

	best := 0
	for i, v := range feats[0] {
		if v > feats[0][best] {
			best = i
		}
	}
	step := (hzToMel(8000) - hzToMel(lowFreq)) / float64(cfg.NumBins+1)
	center := hzToMel(lowFreq) + float64(best+1)*step
	assert.InDelta(t, hzToMel(1000), center, 2*step)
}

func TestFbankFiltersCoverSpectrum(t *testing.T) {
	f, err := NewFbank(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 512, f.fftSize)
	for i, mf := range f.filters {
		assert.NotEmpty(t, mf.coeffs, "filter %d", i)
		assert.LessOrEqual(t, mf.start+len(mf.coeffs), f.fftSize/2+1)
	}
}
