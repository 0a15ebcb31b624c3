package decoder

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/gostt-stream/internal/asrmodel"
	"github.com/chaz8081/gostt-stream/internal/endpoint"
	"github.com/chaz8081/gostt-stream/internal/frontend"
	"github.com/chaz8081/gostt-stream/internal/postproc"
	"github.com/chaz8081/gostt-stream/internal/rescore"
	"github.com/chaz8081/gostt-stream/internal/search"
	"github.com/chaz8081/gostt-stream/internal/tensor"
	"github.com/chaz8081/gostt-stream/internal/wfst"
)

const (
	blank = 0
	unitA = 1
	unitB = 2
	unitC = 3
	eos   = 4
)

var testUnits = []string{"<blank>", "▁a", "b", "▁c", "<sos/eos>"}

// scriptModel emits one CTC frame per subsampled input row. The first
// feature value of that row names the unit that gets almost all the mass.
// The attention decoder scores every token -1.
type scriptModel struct {
	props asrmodel.Properties
}

func newScriptModel(bidirectional bool) *scriptModel {
	return &scriptModel{props: asrmodel.Properties{
		SubsamplingRate: 4,
		RightContext:    6,
		SOS:             eos,
		EOS:             eos,
		FeatureDim:      1,
		VocabSize:       len(testUnits),
		Bidirectional:   bidirectional,
	}}
}

func (m *scriptModel) Properties() asrmodel.Properties { return m.props }

func (m *scriptModel) ForwardEncoderChunk(feats tensor.Mat, _ *asrmodel.Cache, _ int) (tensor.Mat, tensor.Mat, error) {
	sub, vocab := m.props.SubsamplingRate, m.props.VocabSize
	n := (feats.R-(m.props.RightContext+1))/sub + 1
	enc := tensor.NewMat(n, 2)
	logp := tensor.NewMat(n, vocab)
	for i := 0; i < n; i++ {
		unit := int(feats.Row(i * sub)[0])
		enc.Data[i*2] = float32(unit)
		enc.Data[i*2+1] = 1
		for v := 0; v < vocab; v++ {
			logp.Data[i*vocab+v] = float32(math.Log(0.01))
		}
		logp.Data[i*vocab+unit] = float32(math.Log(0.96))
	}
	return enc, logp, nil
}

func (m *scriptModel) ForwardAttentionDecoder(b asrmodel.Batch, _ tensor.Mat) (asrmodel.DecoderOutput, error) {
	var out asrmodel.DecoderOutput
	for _, row := range b.Tokens {
		fwd := tensor.NewMat(len(row), m.props.VocabSize)
		for i := range fwd.Data {
			fwd.Data[i] = -1
		}
		out.Forward = append(out.Forward, fwd)
		if m.props.Bidirectional {
			out.Backward = append(out.Backward, fwd.Clone())
		}
	}
	return out, nil
}

type segment struct {
	unit   int
	frames int
}

func features(segs ...segment) [][]float32 {
	var out [][]float32
	for _, s := range segs {
		for i := 0; i < s.frames; i++ {
			out = append(out, []float32{float32(s.unit)})
		}
	}
	return out
}

func newResource(t *testing.T, bidirectional bool) *Resource {
	t.Helper()
	res, err := NewResource(ResourceConfig{
		Model:         newScriptModel(bidirectional),
		UnitTable:     wfst.NewSymbolTable(testUnits),
		PostProcessor: postproc.New(postproc.Options{}),
	})
	require.NoError(t, err)
	return res
}

func newPipeline(t *testing.T) *frontend.Pipeline {
	t.Helper()
	p, err := frontend.NewPipeline(frontend.DefaultConfig())
	require.NoError(t, err)
	return p
}

// decodeAll feeds feats, decodes to the end and rescores.
func decodeAll(t *testing.T, res *Resource, opts Options, feats [][]float32) (*Decoder, []State) {
	t.Helper()
	p := newPipeline(t)
	d, err := New(p, res, opts)
	require.NoError(t, err)
	p.AcceptFeatures(feats)
	p.SetInputFinished()

	var states []State
	for {
		state, err := d.Decode(true)
		require.NoError(t, err)
		states = append(states, state)
		if state == EndFeats {
			break
		}
	}
	require.NoError(t, d.Rescoring())
	return d, states
}

// "▁a" on frames 0-1, "b" on frames 2-3, then blank.
var abFeatures = features(segment{unitA, 8}, segment{unitB, 8}, segment{blank, 84})

func TestDecodeUnits(t *testing.T) {
	d, states := decodeAll(t, newResource(t, false), DefaultOptions(), abFeatures)

	assert.Equal(t, []State{EndBatch, EndFeats}, states)
	assert.Equal(t, search.PrefixBeam, d.SearchType())
	assert.Equal(t, 40, d.FrameShiftInMs())
	assert.Equal(t, 10, d.FeatureFrameShiftInMs())
	assert.Equal(t, 100, d.NumFrames())
	assert.Equal(t, 33, d.NumFramesInCurrentChunk())

	best := d.Best()
	assert.Equal(t, "ab", best.Sentence)
	assert.Equal(t, []WordPiece{{"▁a", 0, 40}, {"b", 40, 80}}, best.WordPieces)
	assert.Equal(t, []WordPiece{{"ab", 0, 80}}, best.Words)

	results := d.Result()
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRescoringFusesScores(t *testing.T) {
	res := newResource(t, false)

	opts := DefaultOptions()
	opts.RescoringWeight = 0
	d, _ := decodeAll(t, res, opts, abFeatures)
	ctcScore := d.Best().Score
	require.Equal(t, "ab", d.Best().Sentence)
	assert.Equal(t, d.searcher.Likelihood()[0], ctcScore)

	opts = DefaultOptions()
	d, _ = decodeAll(t, res, opts, abFeatures)
	// two units plus eos, each scored -1 by the attention decoder
	assert.InDelta(t, 1.0*-3+0.5*ctcScore, d.Best().Score, 1e-9)
	results := d.Result()
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// the beam is left with first-pass scores
	beam := d.searcher.CurrentBeam()
	require.NotEmpty(t, beam)
	assert.Equal(t, ctcScore, beam[0].Score)
	assert.NotEqual(t, beam[0].Score, d.Best().Score)
}

func TestReverseWeightNeedsBidirectionalModel(t *testing.T) {
	opts := DefaultOptions()
	opts.ReverseWeight = 0.3

	_, err := New(newPipeline(t), newResource(t, false), opts)
	assert.ErrorIs(t, err, rescore.ErrNoBackwardDecoder)

	d, _ := decodeAll(t, newResource(t, true), opts, abFeatures)
	assert.Equal(t, "ab", d.Best().Sentence)
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())

	opts.ReverseWeight = 1.5
	assert.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.CTCWeight = -1
	assert.Error(t, opts.Validate())

	_, err := New(nil, newResource(t, false), DefaultOptions())
	assert.Error(t, err)
}

func TestDecodeNonBlocking(t *testing.T) {
	p := newPipeline(t)
	d, err := New(p, newResource(t, false), DefaultOptions())
	require.NoError(t, err)

	state, err := d.Decode(false)
	require.NoError(t, err)
	assert.Equal(t, WaitFeats, state)

	// the first chunk needs (16-1)*4 + 7 frames
	p.AcceptFeatures(features(segment{blank, 66}))
	state, err = d.Decode(false)
	require.NoError(t, err)
	assert.Equal(t, WaitFeats, state)

	p.AcceptFeatures(features(segment{blank, 1}))
	state, err = d.Decode(false)
	require.NoError(t, err)
	assert.Equal(t, EndBatch, state)
	assert.Equal(t, 67, d.NumFramesInCurrentChunk())

	p.SetInputFinished()
	state, err = d.Decode(false)
	require.NoError(t, err)
	assert.Equal(t, EndFeats, state)
	assert.Equal(t, 0, d.NumFramesInCurrentChunk())
}

func TestSilenceEndsAtRule1(t *testing.T) {
	p := newPipeline(t)
	d, err := New(p, newResource(t, false), DefaultOptions())
	require.NoError(t, err)
	p.AcceptFeatures(features(segment{blank, 1000}))
	p.SetInputFinished()

	endpoints := 0
	for {
		state, err := d.Decode(true)
		require.NoError(t, err)
		if state == Endpoint {
			endpoints++
			assert.False(t, d.DecodedSomething())
			// 5000ms of silence is 125 frames; the eighth chunk holds it
			assert.Equal(t, 67+7*64, d.NumFrames())
			d.ResetContinuousDecoding()
			assert.Equal(t, endpoint.NotStarted, d.EndpointState())
			assert.Equal(t, d.NumFrames(), d.GlobalFrameOffset())
			continue
		}
		if state == EndFeats {
			break
		}
	}
	require.NoError(t, d.Rescoring())

	assert.Equal(t, 1, endpoints)
	best := d.Best()
	assert.Empty(t, best.Sentence)
	assert.Equal(t, float64(NoHypothesisScore), best.Score)
}

func TestContinuousDecoding(t *testing.T) {
	p := newPipeline(t)
	d, err := New(p, newResource(t, false), DefaultOptions())
	require.NoError(t, err)
	p.AcceptFeatures(features(
		segment{unitA, 8}, segment{blank, 200},
		segment{unitC, 8}, segment{blank, 40},
	))
	p.SetInputFinished()

	var utterances []Result
	var offsets []int
	for {
		state, err := d.Decode(true)
		require.NoError(t, err)
		if state != Endpoint && state != EndFeats {
			continue
		}
		require.NoError(t, d.Rescoring())
		if d.DecodedSomething() {
			utterances = append(utterances, d.Best())
			offsets = append(offsets, d.GlobalFrameOffset())
		}
		if state == EndFeats {
			break
		}
		d.ResetContinuousDecoding()
	}

	require.Len(t, utterances, 2)
	assert.Equal(t, "a", utterances[0].Sentence)
	assert.Equal(t, []WordPiece{{"▁a", 0, 0}}, utterances[0].WordPieces)

	// rule 2 fires after 25 silent frames, inside the second chunk
	assert.Equal(t, []int{0, 67 + 64}, offsets)
	assert.Equal(t, "c", utterances[1].Sentence)
	// "▁c" peaks on frame 20 of the second utterance
	assert.Equal(t, []WordPiece{{"▁c", 1310 + 800 - 100, 1310 + 800}}, utterances[1].WordPieces)
}

func TestResetReplaysSession(t *testing.T) {
	res := newResource(t, false)
	d, _ := decodeAll(t, res, DefaultOptions(), abFeatures)
	first := d.Result()

	d.Reset()
	assert.Equal(t, 0, d.NumFrames())
	assert.Empty(t, d.Result())
	assert.False(t, d.DecodedSomething())

	p := d.features.(*frontend.Pipeline)
	assert.False(t, p.InputFinished())
	p.AcceptFeatures(abFeatures)
	p.SetInputFinished()
	for {
		state, err := d.Decode(true)
		require.NoError(t, err)
		if state == EndFeats {
			break
		}
	}
	require.NoError(t, d.Rescoring())
	assert.Equal(t, first, d.Result())
}

func TestSessionsShareResource(t *testing.T) {
	res := newResource(t, false)
	inputs := [][][]float32{
		abFeatures,
		features(segment{unitC, 8}, segment{blank, 8}, segment{unitA, 8}, segment{blank, 76}),
		features(segment{blank, 20}, segment{unitB, 12}, segment{blank, 68}),
	}

	want := make([][]Result, len(inputs))
	for i, feats := range inputs {
		d, _ := decodeAll(t, res, DefaultOptions(), feats)
		want[i] = d.Result()
	}
	assert.Equal(t, "c a", want[1][0].Sentence)

	got := make([][]Result, len(inputs))
	ids := make([]string, len(inputs))
	var g errgroup.Group
	for i, feats := range inputs {
		g.Go(func() error {
			p, err := frontend.NewPipeline(frontend.DefaultConfig())
			if err != nil {
				return err
			}
			d, err := New(p, res, DefaultOptions())
			if err != nil {
				return err
			}
			ids[i] = d.ID()
			go func() {
				p.AcceptFeatures(feats)
				p.SetInputFinished()
			}()
			for {
				state, err := d.Decode(true)
				if err != nil {
					return err
				}
				if state == EndFeats {
					break
				}
			}
			if err := d.Rescoring(); err != nil {
				return err
			}
			got[i] = d.Result()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, want, got)
	assert.NotEqual(t, ids[0], ids[1])
}

// Units map one-to-one onto words through a single-state automaton.
const wordFst = `0 0 1 1
0 0 2 2
0
`

func TestDecodeWithFst(t *testing.T) {
	fst, err := wfst.ReadText(strings.NewReader(wordFst))
	require.NoError(t, err)
	res, err := NewResource(ResourceConfig{
		Model:       newScriptModel(false),
		UnitTable:   wfst.NewSymbolTable(testUnits),
		Fst:         fst,
		SymbolTable: wfst.NewSymbolTable([]string{"<eps>", "hello", "world"}),
	})
	require.NoError(t, err)

	d, _ := decodeAll(t, res, DefaultOptions(), abFeatures)
	assert.Equal(t, search.WfstBeam, d.SearchType())
	best := d.Best()
	assert.Equal(t, "hello world", best.Sentence)
	assert.Equal(t, []WordPiece{{"▁a", 0, 40}, {"b", 40, 80}}, best.WordPieces)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "end_batch", EndBatch.String())
	assert.Equal(t, "endpoint", Endpoint.String())
	assert.Equal(t, "end_feats", EndFeats.String())
	assert.Equal(t, "wait_feats", WaitFeats.String())
	assert.Equal(t, "State(9)", State(9).String())
}
