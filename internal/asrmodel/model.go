// Package asrmodel defines the boundary to the acoustic-model engine and the
// session-local handle that carries per-utterance model state.
//
// A Model is shared read-only by every decode session. All mutable state
// (recurrent cache, leftover feature frames, encoder output history) lives in
// a Handle owned by exactly one session.
package asrmodel

import "github.com/chaz8081/gostt-stream/internal/tensor"

// Properties are the static attributes of a loaded model.
type Properties struct {
	SubsamplingRate int
	RightContext    int
	SOS             int
	EOS             int
	FeatureDim      int
	VocabSize       int
	// Bidirectional is true when the model has a right-to-left attention
	// decoder.
	Bidirectional bool
}

// Cache is the recurrent/attention state threaded through successive
// ForwardEncoderChunk calls. Offset counts encoder frames produced so far;
// State is engine-defined.
type Cache struct {
	Offset int
	State  []tensor.Mat
}

// Reset returns the cache to its initial empty value.
func (c *Cache) Reset() {
	c.Offset = 0
	c.State = nil
}

// Batch is a padded batch of token sequences for the attention decoder.
// Every row starts with SOS and is padded with EOS to the same length;
// Lens[i] is the number of real positions (hypothesis length + 1).
type Batch struct {
	Tokens [][]int
	Lens   []int
}

// DecoderOutput holds per-hypothesis log-probabilities of shape
// [max length, vocab]. Backward is nil for unidirectional models.
type DecoderOutput struct {
	Forward  []tensor.Mat
	Backward []tensor.Mat
}

// Model is an acoustic-model engine.
type Model interface {
	Properties() Properties
	// ForwardEncoderChunk runs the streaming encoder over one chunk of
	// spliced feature frames, updating cache.State in place. It returns the
	// chunk's encoder output and the CTC log-probabilities, one row per
	// output frame. requiredCacheSize < 0 keeps unbounded left context.
	ForwardEncoderChunk(feats tensor.Mat, cache *Cache, requiredCacheSize int) (encoderOut, ctcLogProbs tensor.Mat, err error)
	// ForwardAttentionDecoder scores a padded hypothesis batch against the
	// full encoder output.
	ForwardAttentionDecoder(batch Batch, encoderOut tensor.Mat) (DecoderOutput, error)
}
