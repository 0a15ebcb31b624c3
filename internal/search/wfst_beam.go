package search

import (
	"math"

	"github.com/chaz8081/gostt-stream/internal/wfst"
)

// WfstBeamOptions configures WfstBeamSearch.
type WfstBeamOptions struct {
	Blank int
	// Beam is the log-score distance from the best token beyond which
	// tokens are dropped.
	Beam float64
	// MaxActive caps the number of live tokens per frame.
	MaxActive int
	// NBest is the number of distinct output sequences kept at the end.
	NBest         int
	AcousticScale float64
	// BlankSkipThresh: frames whose blank probability exceeds it only
	// advance blank.
	BlankSkipThresh float64
}

// DefaultWfstBeamOptions returns the standard settings.
func DefaultWfstBeamOptions() WfstBeamOptions {
	return WfstBeamOptions{
		Blank:           0,
		Beam:            16,
		MaxActive:       7000,
		NBest:           10,
		AcousticScale:   1.0,
		BlankSkipThresh: 0.98,
	}
}

// token is one partial path through the automaton. last is the unit that
// produced the current frame, or -1 after blank.
type token struct {
	state   int
	last    int
	score   float64
	inputs  []int
	outputs []int
	times   []int

	contextState int
	contextScore float64
}

func (t *token) total() float64 { return t.score + t.contextScore }

type tokenKey struct {
	state, last int
}

// epsReach is a state reachable through input-epsilon arcs.
type epsReach struct {
	state   int
	weight  float64
	outputs []int
}

// WfstBeamSearch is token-passing search over a composed automaton whose
// input labels are model units (0 is epsilon). Scores are Viterbi: the
// best path per (state, last unit) survives.
type WfstBeamSearch struct {
	opts    WfstBeamOptions
	fst     *wfst.Fst
	context *ContextGraph

	// closures is per-session memoization over the shared read-only fst.
	closures map[int][]epsReach

	absTimeStep int
	tokens      []*token
	finalized   bool
	results     []Hypothesis
}

// NewWfstBeamSearch creates a search over fst. context may be nil and biases
// output symbols.
func NewWfstBeamSearch(fst *wfst.Fst, opts WfstBeamOptions, context *ContextGraph) *WfstBeamSearch {
	b := &WfstBeamSearch{
		opts:     opts,
		fst:      fst,
		context:  context,
		closures: make(map[int][]epsReach),
	}
	b.Reset()
	return b
}

// Type implements Searcher.
func (b *WfstBeamSearch) Type() Type { return WfstBeam }

// Reset returns to a single token at the start state.
func (b *WfstBeamSearch) Reset() {
	b.absTimeStep = 0
	b.tokens = []*token{{state: b.fst.Start(), last: -1}}
	b.finalized = false
	b.results = nil
}

// Search implements Searcher.
func (b *WfstBeamSearch) Search(logp [][]float32) {
	for _, frame := range logp {
		b.AdvanceFrame(frame)
	}
}

// AdvanceFrame passes every live token through one frame.
func (b *WfstBeamSearch) AdvanceFrame(logp []float32) {
	if len(logp) == 0 {
		return
	}
	t := b.absTimeStep
	b.absTimeStep++
	b.finalized = false

	scale := b.opts.AcousticScale
	blankLogp := scale * float64(logp[b.opts.Blank])
	skip := math.Exp(float64(logp[b.opts.Blank])) > b.opts.BlankSkipThresh
	units := b.candidateUnits(logp)

	next := newTokenSet()
	for _, tok := range b.tokens {
		nt := *tok
		nt.last = -1
		nt.score += blankLogp
		next.add(&nt)
		if skip {
			continue
		}

		for _, u := range units {
			lp := scale * float64(logp[u])
			if u == tok.last {
				rt := *tok
				rt.score += lp
				next.add(&rt)
				continue
			}
			for _, r := range b.closure(tok.state) {
				for _, arc := range b.fst.Arcs(r.state) {
					if arc.ILabel != u {
						continue
					}
					et := &token{
						state:        arc.NextState,
						last:         u,
						score:        tok.score + lp - r.weight - float64(arc.Weight),
						inputs:       appendCopy(tok.inputs, u),
						times:        appendCopy(tok.times, t),
						contextState: tok.contextState,
						contextScore: tok.contextScore,
					}
					emitted := r.outputs
					if arc.OLabel != wfst.Epsilon {
						emitted = appendCopy(emitted, arc.OLabel)
					}
					et.outputs = appendCopy(tok.outputs, emitted...)
					b.applyContext(et, emitted)
					next.add(et)
				}
			}
		}
	}
	b.tokens = b.prune(next.tokens)
}

// candidateUnits returns the non-blank units within the beam of the
// frame's best non-blank unit.
func (b *WfstBeamSearch) candidateUnits(logp []float32) []int {
	best := math.Inf(-1)
	for u, v := range logp {
		if u != b.opts.Blank && float64(v) > best {
			best = float64(v)
		}
	}
	var units []int
	for u, v := range logp {
		if u == b.opts.Blank {
			continue
		}
		if b.opts.AcousticScale*(best-float64(v)) <= b.opts.Beam {
			units = append(units, u)
		}
	}
	return units
}

func (b *WfstBeamSearch) applyContext(t *token, outputs []int) {
	if b.context == nil {
		return
	}
	for _, o := range outputs {
		state, delta := b.context.Next(t.contextState, o)
		t.contextState = state
		t.contextScore += delta
	}
}

// closure returns s and every state reachable from it over input-epsilon
// arcs, each with the cheapest weight found breadth first.
func (b *WfstBeamSearch) closure(s int) []epsReach {
	if c, ok := b.closures[s]; ok {
		return c
	}
	out := []epsReach{{state: s}}
	seen := map[int]bool{s: true}
	for i := 0; i < len(out); i++ {
		cur := out[i]
		for _, arc := range b.fst.Arcs(cur.state) {
			if arc.ILabel != wfst.Epsilon || seen[arc.NextState] {
				continue
			}
			seen[arc.NextState] = true
			r := epsReach{
				state:   arc.NextState,
				weight:  cur.weight + float64(arc.Weight),
				outputs: cur.outputs,
			}
			if arc.OLabel != wfst.Epsilon {
				r.outputs = appendCopy(cur.outputs, arc.OLabel)
			}
			out = append(out, r)
		}
	}
	b.closures[s] = out
	return out
}

func (b *WfstBeamSearch) prune(tokens []*token) []*token {
	if len(tokens) == 0 {
		return tokens
	}
	best := math.Inf(-1)
	for _, t := range tokens {
		best = max(best, t.total())
	}
	kept := tokens[:0]
	for _, t := range tokens {
		if t.total() >= best-b.opts.Beam {
			kept = append(kept, t)
		}
	}
	if b.opts.MaxActive <= 0 || len(kept) <= b.opts.MaxActive {
		return kept
	}
	totals := make([]float64, len(kept))
	for i, t := range kept {
		totals[i] = t.total()
	}
	order := rankedOrder(totals, b.opts.MaxActive)
	out := make([]*token, len(order))
	for i, k := range order {
		out[i] = kept[k]
	}
	return out
}

// FinalizeSearch adds final weights, keeping only tokens that can end in a
// final state when any can, and collapses the tokens into the n best
// distinct output sequences.
func (b *WfstBeamSearch) FinalizeSearch() {
	type ended struct {
		tok     *token
		outputs []int
		total   float64
	}
	var finals, all []ended
	for _, t := range b.tokens {
		total := t.total()
		if b.context != nil {
			total += b.context.Backoff(t.contextState)
		}
		all = append(all, ended{tok: t, outputs: t.outputs, total: total})

		bestFinal := math.Inf(-1)
		var bestOut []int
		for _, r := range b.closure(t.state) {
			w, ok := b.fst.Final(r.state)
			if !ok {
				continue
			}
			if v := total - r.weight - float64(w); v > bestFinal {
				bestFinal = v
				bestOut = r.outputs
			}
		}
		if !math.IsInf(bestFinal, -1) {
			finals = append(finals, ended{tok: t, outputs: appendCopy(t.outputs, bestOut...), total: bestFinal})
		}
	}
	pool := all
	if len(finals) > 0 {
		pool = finals
	}

	// dedupe by output sequence, first seen wins ties
	index := make(map[string]int)
	var uniq []ended
	for _, e := range pool {
		key := seqKey(e.outputs)
		if i, ok := index[key]; ok {
			if e.total > uniq[i].total {
				uniq[i] = e
			}
			continue
		}
		index[key] = len(uniq)
		uniq = append(uniq, e)
	}
	totals := make([]float64, len(uniq))
	for i, e := range uniq {
		totals[i] = e.total
	}
	nbest := b.opts.NBest
	if nbest <= 0 {
		nbest = 1
	}
	results := make([]Hypothesis, 0, nbest)
	for _, k := range rankedOrder(totals, nbest) {
		e := uniq[k]
		results = append(results, Hypothesis{
			Inputs:  e.tok.inputs,
			Outputs: e.outputs,
			Times:   e.tok.times,
			Score:   e.total,
		})
	}
	b.results = results
	b.finalized = true
}

// hypotheses returns the finalized n-best, or during the search the live
// tokens deduplicated by input sequence, best first.
func (b *WfstBeamSearch) hypotheses() []Hypothesis {
	if b.finalized {
		return b.results
	}
	index := make(map[string]int)
	var uniq []*token
	for _, t := range b.tokens {
		key := seqKey(t.inputs)
		if i, ok := index[key]; ok {
			if t.total() > uniq[i].total() {
				uniq[i] = t
			}
			continue
		}
		index[key] = len(uniq)
		uniq = append(uniq, t)
	}
	totals := make([]float64, len(uniq))
	for i, t := range uniq {
		totals[i] = t.total()
	}
	n := len(uniq)
	if b.opts.NBest > 0 {
		n = min(n, b.opts.NBest)
	}
	out := make([]Hypothesis, 0, n)
	for _, k := range rankedOrder(totals, n) {
		t := uniq[k]
		out = append(out, Hypothesis{Inputs: t.inputs, Outputs: t.outputs, Times: t.times, Score: t.total()})
	}
	return out
}

// Inputs implements Searcher.
func (b *WfstBeamSearch) Inputs() [][]int {
	hyps := b.hypotheses()
	out := make([][]int, len(hyps))
	for i, h := range hyps {
		out[i] = h.Inputs
	}
	return out
}

// Outputs implements Searcher.
func (b *WfstBeamSearch) Outputs() [][]int {
	hyps := b.hypotheses()
	out := make([][]int, len(hyps))
	for i, h := range hyps {
		out[i] = h.Outputs
	}
	return out
}

// Likelihood implements Searcher.
func (b *WfstBeamSearch) Likelihood() []float64 {
	hyps := b.hypotheses()
	out := make([]float64, len(hyps))
	for i, h := range hyps {
		out[i] = h.Score
	}
	return out
}

// Times implements Searcher.
func (b *WfstBeamSearch) Times() [][]int {
	hyps := b.hypotheses()
	out := make([][]int, len(hyps))
	for i, h := range hyps {
		out[i] = h.Times
	}
	return out
}

// CurrentBeam implements Searcher.
func (b *WfstBeamSearch) CurrentBeam() []Hypothesis {
	return cloneHyps(b.hypotheses())
}

// tokenSet merges tokens by (state, last unit), keeping the best score and
// the order in which keys first appeared.
type tokenSet struct {
	index  map[tokenKey]int
	tokens []*token
}

func newTokenSet() *tokenSet {
	return &tokenSet{index: make(map[tokenKey]int)}
}

func (ts *tokenSet) add(t *token) {
	k := tokenKey{state: t.state, last: t.last}
	if i, ok := ts.index[k]; ok {
		if t.total() > ts.tokens[i].total() {
			ts.tokens[i] = t
		}
		return
	}
	ts.index[k] = len(ts.tokens)
	ts.tokens = append(ts.tokens, t)
}

var (
	_ Searcher = (*WfstBeamSearch)(nil)
	_ Searcher = (*PrefixBeamSearch)(nil)
)
