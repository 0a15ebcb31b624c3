// Package linear is a small reference acoustic model: a streaming affine
// encoder with a left-context mixing term, a CTC projection head and an
// embedding-plus-projection attention decoder. It exists so the decoder can
// run end to end without an external tensor engine.
package linear

import (
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/chaz8081/gostt-stream/internal/asrmodel"
	"github.com/chaz8081/gostt-stream/internal/mathutil"
	"github.com/chaz8081/gostt-stream/internal/tensor"
)

// Dims describes the shape of a linear model.
type Dims struct {
	FeatureDim      int `json:"feature_dim"`
	Hidden          int `json:"hidden"`
	Vocab           int `json:"vocab"`
	SubsamplingRate int `json:"subsampling_rate"`
	RightContext    int `json:"right_context"`
	SOS             int `json:"sos"`
	EOS             int `json:"eos"`
}

// Weights is the on-disk JSON layout. Matrices are row-major.
type Weights struct {
	Dims

	EncoderW []float32 `json:"encoder_w"` // [hidden x feature_dim]
	EncoderB []float32 `json:"encoder_b"` // [hidden]
	ContextW []float32 `json:"context_w"` // [hidden x hidden]
	CTCW     []float32 `json:"ctc_w"`     // [vocab x hidden]
	CTCB     []float32 `json:"ctc_b"`     // [vocab]

	Embedding []float32 `json:"embedding"` // [vocab x hidden]
	DecoderW  []float32 `json:"decoder_w"` // [vocab x hidden]
	DecoderB  []float32 `json:"decoder_b"` // [vocab]

	// Optional right-to-left decoder.
	REmbedding []float32 `json:"r_embedding,omitempty"`
	RDecoderW  []float32 `json:"r_decoder_w,omitempty"`
	RDecoderB  []float32 `json:"r_decoder_b,omitempty"`
}

type attentionDecoder struct {
	embedding tensor.Mat
	proj      tensor.Mat
	bias      []float32
}

// Model implements asrmodel.Model. It is immutable after construction and
// safe for concurrent use.
type Model struct {
	dims Dims

	encW tensor.Mat
	encB []float32
	ctxW tensor.Mat
	ctcW tensor.Mat
	ctcB []float32

	fwd attentionDecoder
	bwd *attentionDecoder
}

var _ asrmodel.Model = (*Model)(nil)

// Load reads a JSON weights file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("linear: reading model: %w", err)
	}
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("linear: parsing model %q: %w", path, err)
	}
	return New(w)
}

// New validates weights and builds a model.
func New(w Weights) (*Model, error) {
	d := w.Dims
	if d.FeatureDim <= 0 || d.Hidden <= 0 || d.Vocab <= 0 {
		return nil, fmt.Errorf("linear: invalid dims %+v", d)
	}
	if d.SubsamplingRate <= 0 || d.RightContext < 0 {
		return nil, fmt.Errorf("linear: invalid subsampling %d / right context %d", d.SubsamplingRate, d.RightContext)
	}
	if d.SOS < 0 || d.SOS >= d.Vocab || d.EOS < 0 || d.EOS >= d.Vocab {
		return nil, fmt.Errorf("linear: sos %d / eos %d outside vocab %d", d.SOS, d.EOS, d.Vocab)
	}

	m := &Model{dims: d}
	var err error
	if m.encW, err = mat("encoder_w", d.Hidden, d.FeatureDim, w.EncoderW); err != nil {
		return nil, err
	}
	if m.encB, err = vec("encoder_b", d.Hidden, w.EncoderB); err != nil {
		return nil, err
	}
	if m.ctxW, err = mat("context_w", d.Hidden, d.Hidden, w.ContextW); err != nil {
		return nil, err
	}
	if m.ctcW, err = mat("ctc_w", d.Vocab, d.Hidden, w.CTCW); err != nil {
		return nil, err
	}
	if m.ctcB, err = vec("ctc_b", d.Vocab, w.CTCB); err != nil {
		return nil, err
	}
	if m.fwd, err = newAttentionDecoder("", d, w.Embedding, w.DecoderW, w.DecoderB); err != nil {
		return nil, err
	}
	if len(w.REmbedding) > 0 || len(w.RDecoderW) > 0 {
		bwd, err := newAttentionDecoder("r_", d, w.REmbedding, w.RDecoderW, w.RDecoderB)
		if err != nil {
			return nil, err
		}
		m.bwd = &bwd
	}
	return m, nil
}

func newAttentionDecoder(prefix string, d Dims, emb, proj, bias []float32) (attentionDecoder, error) {
	var (
		dec attentionDecoder
		err error
	)
	if dec.embedding, err = mat(prefix+"embedding", d.Vocab, d.Hidden, emb); err != nil {
		return dec, err
	}
	if dec.proj, err = mat(prefix+"decoder_w", d.Vocab, d.Hidden, proj); err != nil {
		return dec, err
	}
	if dec.bias, err = vec(prefix+"decoder_b", d.Vocab, bias); err != nil {
		return dec, err
	}
	return dec, nil
}

func mat(name string, r, c int, data []float32) (tensor.Mat, error) {
	m, err := tensor.NewMatFromData(r, c, data)
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("linear: %s: %w", name, err)
	}
	return m, nil
}

func vec(name string, n int, data []float32) ([]float32, error) {
	if len(data) != n {
		return nil, fmt.Errorf("linear: %s has %d values, want %d", name, len(data), n)
	}
	return data, nil
}

// NewRandom builds a model with deterministic pseudo-random weights.
func NewRandom(d Dims, seed int64, bidirectional bool) (*Model, error) {
	return New(RandomWeights(d, seed, bidirectional))
}

// RandomWeights returns deterministic pseudo-random weights for d.
func RandomWeights(d Dims, seed int64, bidirectional bool) Weights {
	fill := func(n int, s int64) []float32 {
		m := tensor.NewMat(1, n)
		tensor.FillRand(&m, seed+s, 0.5)
		return m.Data
	}
	w := Weights{
		Dims:      d,
		EncoderW:  fill(d.Hidden*d.FeatureDim, 1),
		EncoderB:  fill(d.Hidden, 2),
		ContextW:  fill(d.Hidden*d.Hidden, 3),
		CTCW:      fill(d.Vocab*d.Hidden, 4),
		CTCB:      fill(d.Vocab, 5),
		Embedding: fill(d.Vocab*d.Hidden, 6),
		DecoderW:  fill(d.Vocab*d.Hidden, 7),
		DecoderB:  fill(d.Vocab, 8),
	}
	if bidirectional {
		w.REmbedding = fill(d.Vocab*d.Hidden, 9)
		w.RDecoderW = fill(d.Vocab*d.Hidden, 10)
		w.RDecoderB = fill(d.Vocab, 11)
	}
	return w
}

// Save writes w as JSON.
func Save(path string, w Weights) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("linear: encoding model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("linear: writing model: %w", err)
	}
	return nil
}

// Properties implements asrmodel.Model.
func (m *Model) Properties() asrmodel.Properties {
	return asrmodel.Properties{
		SubsamplingRate: m.dims.SubsamplingRate,
		RightContext:    m.dims.RightContext,
		SOS:             m.dims.SOS,
		EOS:             m.dims.EOS,
		FeatureDim:      m.dims.FeatureDim,
		VocabSize:       m.dims.Vocab,
		Bidirectional:   m.bwd != nil,
	}
}

// ForwardEncoderChunk implements asrmodel.Model. cache.State[0] holds the
// retained left-context encoder frames.
func (m *Model) ForwardEncoderChunk(feats tensor.Mat, cache *asrmodel.Cache, requiredCacheSize int) (tensor.Mat, tensor.Mat, error) {
	if feats.C != m.dims.FeatureDim {
		return tensor.Mat{}, tensor.Mat{}, fmt.Errorf("linear: feature dim %d, want %d", feats.C, m.dims.FeatureDim)
	}
	window := m.dims.RightContext + 1
	if feats.R < window {
		return tensor.Mat{}, tensor.Mat{}, fmt.Errorf("linear: %d frames shorter than receptive field %d", feats.R, window)
	}
	numOut := (feats.R-window)/m.dims.SubsamplingRate + 1

	var leftCtx tensor.Mat
	if len(cache.State) > 0 {
		leftCtx = cache.State[0]
	}
	ctx := meanRows(leftCtx, m.dims.Hidden)
	ctxTerm := make([]float32, m.dims.Hidden)
	tensor.MatVec(ctxTerm, m.ctxW, ctx)

	encoderOut := tensor.NewMat(numOut, m.dims.Hidden)
	logProbs := tensor.NewMat(numOut, m.dims.Vocab)
	x := make([]float32, m.dims.FeatureDim)
	for t := 0; t < numOut; t++ {
		start := t * m.dims.SubsamplingRate
		clear(x)
		for r := start; r < start+window; r++ {
			for j, v := range feats.Row(r) {
				x[j] += v
			}
		}
		for j := range x {
			x[j] /= float32(window)
		}

		h := encoderOut.Row(t)
		tensor.MatVec(h, m.encW, x)
		for j := range h {
			h[j] = float32(math.Tanh(float64(h[j] + m.encB[j] + ctxTerm[j])))
		}

		lp := logProbs.Row(t)
		tensor.MatVec(lp, m.ctcW, h)
		for j := range lp {
			lp[j] += m.ctcB[j]
		}
		mathutil.LogSoftmax(lp)
	}

	merged, err := tensor.ConcatRows(leftCtx, encoderOut)
	if err != nil {
		return tensor.Mat{}, tensor.Mat{}, fmt.Errorf("linear: update cache: %w", err)
	}
	cache.State = []tensor.Mat{merged.LastRows(requiredCacheSize)}
	return encoderOut, logProbs, nil
}

// ForwardAttentionDecoder implements asrmodel.Model.
func (m *Model) ForwardAttentionDecoder(batch asrmodel.Batch, encoderOut tensor.Mat) (asrmodel.DecoderOutput, error) {
	if encoderOut.Empty() {
		return asrmodel.DecoderOutput{}, fmt.Errorf("linear: empty encoder output")
	}
	if encoderOut.C != m.dims.Hidden {
		return asrmodel.DecoderOutput{}, fmt.Errorf("linear: encoder output width %d, want %d", encoderOut.C, m.dims.Hidden)
	}
	ctx := meanRows(encoderOut, m.dims.Hidden)

	var out asrmodel.DecoderOutput
	out.Forward = make([]tensor.Mat, len(batch.Tokens))
	for i, row := range batch.Tokens {
		out.Forward[i] = m.fwd.forward(row, ctx, m.dims)
	}
	if m.bwd != nil {
		out.Backward = make([]tensor.Mat, len(batch.Tokens))
		for i, row := range batch.Tokens {
			out.Backward[i] = m.bwd.forward(reverseRow(row, batch.Lens[i], m.dims.EOS), ctx, m.dims)
		}
	}
	return out, nil
}

func (d *attentionDecoder) forward(tokens []int, ctx []float32, dims Dims) tensor.Mat {
	out := tensor.NewMat(len(tokens), dims.Vocab)
	v := make([]float32, dims.Hidden)
	for pos, tok := range tokens {
		if tok < 0 || tok >= dims.Vocab {
			tok = dims.EOS
		}
		emb := d.embedding.Row(tok)
		for j := range v {
			v[j] = emb[j] + ctx[j]
		}
		row := out.Row(pos)
		tensor.MatVec(row, d.proj, v)
		for j := range row {
			row[j] += d.bias[j]
		}
		mathutil.LogSoftmax(row)
	}
	return out
}

// reverseRow turns [sos, t1..tn, eos...] into [sos, tn..t1, eos...].
func reverseRow(row []int, n, eos int) []int {
	out := make([]int, len(row))
	for i := range out {
		out[i] = eos
	}
	if len(row) == 0 {
		return out
	}
	out[0] = row[0]
	tokens := n - 1
	for j := 0; j < tokens && j+1 < len(row); j++ {
		out[1+j] = row[tokens-j]
	}
	return out
}

func meanRows(m tensor.Mat, width int) []float32 {
	out := make([]float32, width)
	if m.Empty() {
		return out
	}
	for i := 0; i < m.R; i++ {
		for j, v := range m.Row(i) {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float32(m.R)
	}
	return out
}
