package asrmodel

import (
	"fmt"
	"math"

	"github.com/chaz8081/gostt-stream/internal/tensor"
)

// Handle is a session-local view of a shared Model. It splices leftover
// frames into each chunk, owns the model cache and accumulates encoder output
// for rescoring.
type Handle struct {
	model Model
	props Properties

	chunkSize     int
	numLeftChunks int

	cache       Cache
	cachedFeats [][]float32
	encoderOuts []tensor.Mat
}

// NewHandle creates a handle over model with the given chunking. chunkSize
// is in subsampled frames; numLeftChunks < 0 keeps unbounded left context.
func NewHandle(model Model, chunkSize, numLeftChunks int) *Handle {
	return &Handle{
		model:         model,
		props:         model.Properties(),
		chunkSize:     chunkSize,
		numLeftChunks: numLeftChunks,
	}
}

// Copy returns an independent handle that shares the model but starts with
// fresh state.
func (h *Handle) Copy() *Handle {
	return NewHandle(h.model, h.chunkSize, h.numLeftChunks)
}

// Model returns the shared model.
func (h *Handle) Model() Model { return h.model }

// Properties returns the model's static attributes.
func (h *Handle) Properties() Properties { return h.props }

// Offset returns the number of encoder frames produced since the last Reset.
func (h *Handle) Offset() int { return h.cache.Offset }

// Reset clears the cache, leftover frames and encoder history.
func (h *Handle) Reset() {
	h.cache.Reset()
	h.cachedFeats = nil
	h.encoderOuts = nil
}

// NumFramesForChunk returns how many new feature frames the next chunk needs.
// The first chunk of an utterance (started == false) also needs the right
// context; later chunks reuse the leftover frames kept from the previous one.
func (h *Handle) NumFramesForChunk(started bool) int {
	if h.chunkSize <= 0 {
		return math.MaxInt32
	}
	if !started {
		context := h.props.RightContext + 1
		return (h.chunkSize-1)*h.props.SubsamplingRate + context
	}
	return h.chunkSize * h.props.SubsamplingRate
}

func (h *Handle) requiredCacheSize() int {
	if h.numLeftChunks < 0 {
		return -1
	}
	return h.numLeftChunks * h.chunkSize
}

// ForwardEncoderChunk forwards one chunk and returns per-frame CTC
// log-probabilities. It returns no rows when the spliced input is shorter
// than the model's receptive field.
func (h *Handle) ForwardEncoderChunk(chunk [][]float32) ([][]float32, error) {
	var out [][]float32
	numFrames := len(h.cachedFeats) + len(chunk)
	if numFrames >= h.props.RightContext+1 {
		spliced := make([][]float32, 0, numFrames)
		spliced = append(spliced, h.cachedFeats...)
		spliced = append(spliced, chunk...)
		feats, err := tensor.FromRows(spliced)
		if err != nil {
			return nil, fmt.Errorf("asrmodel: splice features: %w", err)
		}
		if feats.C != h.props.FeatureDim {
			return nil, fmt.Errorf("asrmodel: feature dim %d, model expects %d", feats.C, h.props.FeatureDim)
		}

		encoderOut, logProbs, err := h.model.ForwardEncoderChunk(feats, &h.cache, h.requiredCacheSize())
		if err != nil {
			return nil, fmt.Errorf("asrmodel: forward encoder chunk: %w", err)
		}
		if logProbs.R != encoderOut.R {
			return nil, fmt.Errorf("asrmodel: ctc output has %d frames, encoder output %d", logProbs.R, encoderOut.R)
		}
		if logProbs.R > 0 && logProbs.C != h.props.VocabSize {
			return nil, fmt.Errorf("asrmodel: ctc output width %d, vocab size %d", logProbs.C, h.props.VocabSize)
		}

		h.cache.Offset += encoderOut.R
		if !encoderOut.Empty() {
			h.encoderOuts = append(h.encoderOuts, encoderOut)
		}
		out = logProbs.Rows()
	}
	h.cacheFeature(chunk)
	return out, nil
}

// cacheFeature keeps the trailing frames the next chunk must re-see.
func (h *Handle) cacheFeature(chunk [][]float32) {
	size := 1 + h.props.RightContext - h.props.SubsamplingRate
	if size <= 0 || len(chunk) < size {
		return
	}
	cached := make([][]float32, size)
	for i := 0; i < size; i++ {
		row := chunk[len(chunk)-size+i]
		cp := make([]float32, len(row))
		copy(cp, row)
		cached[i] = cp
	}
	h.cachedFeats = cached
}

// EncoderOut concatenates the encoder output history along time. It is
// empty when nothing was forwarded since the last Reset.
func (h *Handle) EncoderOut() (tensor.Mat, error) {
	out, err := tensor.ConcatRows(h.encoderOuts...)
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("asrmodel: concat encoder outputs: %w", err)
	}
	return out, nil
}

// NumEncoderChunks returns the length of the encoder output history.
func (h *Handle) NumEncoderChunks() int { return len(h.encoderOuts) }
