// Package decoder drives one streaming recognition session: it pulls feature
// chunks, runs the model, advances the CTC search, watches for endpoints and
// rescores the final hypotheses with the attention decoder.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/chaz8081/gostt-stream/internal/asrmodel"
	"github.com/chaz8081/gostt-stream/internal/endpoint"
	"github.com/chaz8081/gostt-stream/internal/rescore"
	"github.com/chaz8081/gostt-stream/internal/search"
)

// State is the outcome of one Decode call.
type State int

const (
	// EndBatch means a chunk was decoded and more input is expected.
	EndBatch State = iota
	// Endpoint means the utterance ended inside the last chunk.
	Endpoint
	// EndFeats means input is finished and fully consumed.
	EndFeats
	// WaitFeats means a non-blocking call found too few frames queued.
	WaitFeats
)

func (s State) String() string {
	switch s {
	case EndBatch:
		return "end_batch"
	case Endpoint:
		return "endpoint"
	case EndFeats:
		return "end_feats"
	case WaitFeats:
		return "wait_feats"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FeatureSource is the frame queue a Decoder reads from.
type FeatureSource interface {
	AcceptWaveform(samples []float32)
	SetInputFinished()
	InputFinished() bool
	NumQueuedFrames() int
	// Read returns n frames and true, or the remaining frames and false
	// once input is finished. It may block.
	Read(n int) ([][]float32, bool)
	Reset()
	// FrameShift is in samples.
	FrameShift() int
	SampleRate() int
}

// Options configures a session.
type Options struct {
	// ChunkSize is in decoded frames; <= 0 decodes the whole input as one
	// chunk.
	ChunkSize     int
	NumLeftChunks int

	CTCWeight       float64
	RescoringWeight float64
	// ReverseWeight blends in the right-to-left decoder score and needs a
	// bidirectional model.
	ReverseWeight float64

	// TimestampGapMs bounds how far a unit's span reaches from its peak
	// frame.
	TimestampGapMs int

	// Endpoint.FrameShiftMs is derived from the model and features.
	Endpoint endpoint.Config

	PrefixBeam search.PrefixBeamOptions
	WfstBeam   search.WfstBeamOptions
}

// DefaultOptions returns 16-frame chunks with unbounded left context.
func DefaultOptions() Options {
	return Options{
		ChunkSize:       16,
		NumLeftChunks:   -1,
		CTCWeight:       0.5,
		RescoringWeight: 1.0,
		ReverseWeight:   0.0,
		TimestampGapMs:  100,
		Endpoint:        endpoint.DefaultConfig(0),
		PrefixBeam:      search.DefaultPrefixBeamOptions(),
		WfstBeam:        search.DefaultWfstBeamOptions(),
	}
}

// Validate checks value ranges.
func (o Options) Validate() error {
	if o.CTCWeight < 0 || o.RescoringWeight < 0 {
		return fmt.Errorf("decoder: ctc_weight and rescoring_weight must not be negative, got %g and %g", o.CTCWeight, o.RescoringWeight)
	}
	if o.ReverseWeight < 0 || o.ReverseWeight > 1 {
		return fmt.Errorf("decoder: reverse_weight must be in [0, 1], got %g", o.ReverseWeight)
	}
	if o.TimestampGapMs < 0 {
		return fmt.Errorf("decoder: timestamp gap must not be negative, got %d", o.TimestampGapMs)
	}
	return nil
}

// Decoder is one recognition session. It is not safe for concurrent use,
// but any number of Decoders may share a Resource.
type Decoder struct {
	id   string
	log  *slog.Logger
	opts Options

	features   FeatureSource
	resource   *Resource
	handle     *asrmodel.Handle
	searcher   search.Searcher
	endpointer *endpoint.Detector

	started                 bool
	numFrames               int
	globalFrameOffset       int
	numFramesInCurrentChunk int
	result                  []Result
}

// New creates a session reading from features and borrowing res.
func New(features FeatureSource, res *Resource, opts Options) (*Decoder, error) {
	if features == nil || res == nil {
		return nil, errors.New("decoder: features and resource are required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ReverseWeight > 0 && !res.model.Properties().Bidirectional {
		return nil, fmt.Errorf("decoder: reverse_weight %g: %w", opts.ReverseWeight, rescore.ErrNoBackwardDecoder)
	}

	d := &Decoder{
		id:       uuid.NewString(),
		opts:     opts,
		features: features,
		resource: res,
		handle:   asrmodel.NewHandle(res.model, opts.ChunkSize, opts.NumLeftChunks),
	}
	d.log = slog.With("session", d.id)

	if res.fst != nil {
		d.searcher = search.NewWfstBeamSearch(res.fst, opts.WfstBeam, res.context)
	} else {
		d.searcher = search.NewPrefixBeamSearch(opts.PrefixBeam, res.context)
	}
	epCfg := opts.Endpoint
	epCfg.FrameShiftMs = d.FrameShiftInMs()
	d.endpointer = endpoint.New(epCfg)

	d.log.Debug("decoder created",
		"search", d.searcher.Type(),
		"chunk_size", opts.ChunkSize,
		"frame_shift_ms", epCfg.FrameShiftMs,
	)
	return d, nil
}

// ID returns the session identifier.
func (d *Decoder) ID() string { return d.id }

// Decode pulls the next chunk and advances the search. With block false it
// returns WaitFeats instead of waiting for frames.
func (d *Decoder) Decode(block bool) (State, error) {
	state := EndBatch
	required := d.handle.NumFramesForChunk(d.started)
	if !block && !d.features.InputFinished() && d.features.NumQueuedFrames() < required {
		return WaitFeats, nil
	}

	chunk, ok := d.features.Read(required)
	if !ok {
		state = EndFeats
	}
	d.numFrames += len(chunk)

	logp, err := d.handle.ForwardEncoderChunk(chunk)
	if err != nil {
		return state, fmt.Errorf("decoder: session %s: %w", d.id, err)
	}
	d.searcher.Search(logp)
	d.updateResult(false)

	if state != EndFeats && d.endpointer.IsEndpoint(logp, d.DecodedSomething()) {
		d.log.Debug("endpoint detected", "frames", d.numFrames)
		state = Endpoint
	}

	d.numFramesInCurrentChunk = len(chunk)
	d.started = true
	return state, nil
}

// Rescoring finalizes the search and, when RescoringWeight is positive,
// reranks the hypotheses with the attention decoder. The fused ranking is
// held in Result; the search beam keeps its first-pass scores.
func (d *Decoder) Rescoring() error {
	d.searcher.FinalizeSearch()
	d.updateResult(true)
	if d.opts.RescoringWeight == 0 || len(d.result) == 0 {
		return nil
	}

	hyps := d.searcher.Inputs()
	encoderOut, err := d.handle.EncoderOut()
	if err != nil {
		return err
	}
	scores, err := rescore.Rescore(d.resource.model, hyps, encoderOut, d.opts.ReverseWeight)
	if err != nil {
		return fmt.Errorf("decoder: session %s: rescore: %w", d.id, err)
	}
	for i := range d.result {
		d.result[i].Score = d.opts.RescoringWeight*scores[i] + d.opts.CTCWeight*d.result[i].Score
	}
	sort.SliceStable(d.result, func(i, j int) bool { return d.result[i].Score > d.result[j].Score })
	return nil
}

func (d *Decoder) updateResult(finish bool) {
	inputs := d.searcher.Inputs()
	outputs := d.searcher.Outputs()
	likelihood := d.searcher.Likelihood()
	times := d.searcher.Times()

	symbols := d.resource.SymbolTable()
	wordLevel := d.searcher.Type() == search.WfstBeam
	offsetMs := d.globalFrameOffset * d.FeatureFrameShiftInMs()
	frameShiftMs := d.FrameShiftInMs()

	d.result = make([]Result, 0, len(outputs))
	for i, out := range outputs {
		var b strings.Builder
		for _, id := range out {
			sym, _ := symbols.Find(id)
			if wordLevel {
				b.WriteByte(' ')
			}
			b.WriteString(sym)
		}
		r := Result{Score: likelihood[i], Sentence: d.resource.post.Process(b.String())}

		if finish {
			units := make([]string, len(inputs[i]))
			for j, id := range inputs[i] {
				units[j], _ = d.resource.unitTable.Find(id)
			}
			r.WordPieces = unitPieces(units, times[i], frameShiftMs, d.opts.TimestampGapMs, offsetMs)
			r.Words = groupWords(r.WordPieces, times[i], frameShiftMs, d.resource.post, d.opts.TimestampGapMs)
		}
		d.result = append(d.result, r)
	}

	if !finish && len(d.result) > 0 {
		d.log.Debug("partial result", "text", d.result[0].Sentence)
	}
}

// Reset returns the session to its initial state, including the feature
// source.
func (d *Decoder) Reset() {
	d.started = false
	d.numFrames = 0
	d.globalFrameOffset = 0
	d.numFramesInCurrentChunk = 0
	d.result = nil
	d.handle.Reset()
	d.searcher.Reset()
	d.features.Reset()
	d.endpointer.Reset()
}

// ResetContinuousDecoding starts a new utterance on the same audio stream.
// Timestamps of later results continue from the frames already consumed.
func (d *Decoder) ResetContinuousDecoding() {
	d.globalFrameOffset = d.numFrames
	d.started = false
	d.result = nil
	d.handle.Reset()
	d.searcher.Reset()
	d.endpointer.Reset()
}

// DecodedSomething reports whether the best hypothesis has any text.
func (d *Decoder) DecodedSomething() bool {
	return len(d.result) > 0 && d.result[0].Sentence != ""
}

// Result returns the ranked hypotheses. After Rescoring it holds the fused
// scores and order, which may differ from the search beam.
func (d *Decoder) Result() []Result { return d.result }

// Best returns the top hypothesis, or an empty result scored
// NoHypothesisScore when nothing was decoded.
func (d *Decoder) Best() Result {
	if !d.DecodedSomething() {
		return Result{Score: NoHypothesisScore}
	}
	return d.result[0]
}

// FeatureFrameShiftInMs is the feature frame shift in milliseconds.
func (d *Decoder) FeatureFrameShiftInMs() int {
	return d.features.FrameShift() * 1000 / d.features.SampleRate()
}

// FrameShiftInMs is the duration of one decoded frame.
func (d *Decoder) FrameShiftInMs() int {
	return d.handle.Properties().SubsamplingRate * d.FeatureFrameShiftInMs()
}

// NumFramesInCurrentChunk returns the feature frames read by the last Decode.
func (d *Decoder) NumFramesInCurrentChunk() int { return d.numFramesInCurrentChunk }

// NumFrames returns the feature frames read since the last Reset.
func (d *Decoder) NumFrames() int { return d.numFrames }

// GlobalFrameOffset returns the feature frame where the current utterance
// began.
func (d *Decoder) GlobalFrameOffset() int { return d.globalFrameOffset }

// EndpointState exposes the endpoint detector state.
func (d *Decoder) EndpointState() endpoint.State { return d.endpointer.State() }

// SearchType reports which search the session runs.
func (d *Decoder) SearchType() search.Type { return d.searcher.Type() }
