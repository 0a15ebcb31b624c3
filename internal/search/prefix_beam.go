package search

import (
	"math"
	"slices"

	"github.com/chaz8081/gostt-stream/internal/mathutil"
	"github.com/chaz8081/gostt-stream/internal/topk"
)

// PrefixBeamOptions configures PrefixBeamSearch.
type PrefixBeamOptions struct {
	Blank int
	// FirstBeamSize is the number of units considered per frame.
	FirstBeamSize int
	// SecondBeamSize is the beam width kept after each frame.
	SecondBeamSize int
}

// DefaultPrefixBeamOptions returns the standard settings.
func DefaultPrefixBeamOptions() PrefixBeamOptions {
	return PrefixBeamOptions{Blank: 0, FirstBeamSize: 10, SecondBeamSize: 10}
}

// prefixScore splits a prefix's probability into paths ending in blank (s)
// and in its last unit (ns), plus the best single path of each kind.
type prefixScore struct {
	s, ns        float64
	vs, vns      float64
	curTokenProb float64
	timesS       []int
	timesNS      []int

	hasContext   bool
	contextState int
	contextScore float64
}

func newPrefixScore() *prefixScore {
	return &prefixScore{
		s:            mathutil.LogZero,
		ns:           mathutil.LogZero,
		vs:           mathutil.LogZero,
		vns:          mathutil.LogZero,
		curTokenProb: mathutil.LogZero,
	}
}

func (p *prefixScore) score() float64 { return mathutil.LogAdd(p.s, p.ns) }

func (p *prefixScore) viterbiScore() float64 { return max(p.vs, p.vns) }

func (p *prefixScore) times() []int {
	if p.vs > p.vns {
		return p.timesS
	}
	return p.timesNS
}

func (p *prefixScore) totalScore() float64 { return p.score() + p.contextScore }

func (p *prefixScore) copyContext(from *prefixScore) {
	p.contextState = from.contextState
	p.contextScore = from.contextScore
	p.hasContext = true
}

// prefixSet is an insertion-ordered map from prefix to score so that ties
// in pruning resolve by first appearance.
type prefixSet struct {
	index    map[string]int
	prefixes [][]int
	scores   []*prefixScore
}

func newPrefixSet() *prefixSet {
	return &prefixSet{index: make(map[string]int)}
}

func (ps *prefixSet) get(prefix []int) *prefixScore {
	key := seqKey(prefix)
	if i, ok := ps.index[key]; ok {
		return ps.scores[i]
	}
	sc := newPrefixScore()
	ps.index[key] = len(ps.prefixes)
	ps.prefixes = append(ps.prefixes, prefix)
	ps.scores = append(ps.scores, sc)
	return sc
}

// PrefixBeamSearch is CTC prefix beam search over model units.
type PrefixBeamSearch struct {
	opts    PrefixBeamOptions
	context *ContextGraph

	absTimeStep int
	hyps        [][]int
	scores      []*prefixScore

	likelihood []float64
	times      [][]int
}

// NewPrefixBeamSearch creates a search. context may be nil.
func NewPrefixBeamSearch(opts PrefixBeamOptions, context *ContextGraph) *PrefixBeamSearch {
	b := &PrefixBeamSearch{opts: opts, context: context}
	b.Reset()
	return b
}

// Type implements Searcher.
func (b *PrefixBeamSearch) Type() Type { return PrefixBeam }

// Reset returns to a single empty prefix at time zero.
func (b *PrefixBeamSearch) Reset() {
	b.absTimeStep = 0
	root := newPrefixScore()
	root.s = 0
	root.vs = 0
	root.hasContext = true
	b.hyps = [][]int{{}}
	b.scores = []*prefixScore{root}
	b.likelihood = []float64{0}
	b.times = [][]int{{}}
}

// Search implements Searcher.
func (b *PrefixBeamSearch) Search(logp [][]float32) {
	for _, frame := range logp {
		b.AdvanceFrame(frame)
	}
}

// AdvanceFrame extends every prefix by the frame's most likely units and
// prunes back to the beam width.
func (b *PrefixBeamSearch) AdvanceFrame(logp []float32) {
	if len(logp) == 0 {
		return
	}
	t := b.absTimeStep
	probs, ids := topk.SelectTopK(logp, b.opts.FirstBeamSize)
	next := newPrefixSet()

	for i, id := range ids {
		prob := float64(probs[i])
		for j, prefix := range b.hyps {
			cur := b.scores[j]
			switch {
			case id == b.opts.Blank:
				// *a + blank -> *a
				ns := next.get(prefix)
				ns.s = mathutil.LogAdd(ns.s, cur.score()+prob)
				ns.vs = cur.viterbiScore() + prob
				ns.timesS = cur.times()
				if b.context != nil && !ns.hasContext {
					ns.copyContext(cur)
				}

			case len(prefix) > 0 && id == prefix[len(prefix)-1]:
				// *a + a -> *a
				ns1 := next.get(prefix)
				ns1.ns = mathutil.LogAdd(ns1.ns, cur.ns+prob)
				if ns1.vns < cur.vns+prob {
					ns1.vns = cur.vns + prob
					// the unit's time follows its most probable frame
					if cur.curTokenProb < prob {
						ns1.curTokenProb = prob
						ns1.timesNS = slices.Clone(cur.timesNS)
						if n := len(ns1.timesNS); n > 0 {
							ns1.timesNS[n-1] = t
						}
					} else {
						ns1.curTokenProb = cur.curTokenProb
						ns1.timesNS = cur.timesNS
					}
				}
				if b.context != nil && !ns1.hasContext {
					ns1.copyContext(cur)
				}

				// *a + blank + a -> *aa, only reachable through a blank
				if math.IsInf(cur.s, -1) {
					continue
				}
				newPrefix := appendCopy(prefix, id)
				ns2 := next.get(newPrefix)
				ns2.ns = mathutil.LogAdd(ns2.ns, cur.s+prob)
				if ns2.vns < cur.vs+prob {
					ns2.vns = cur.vs + prob
					ns2.curTokenProb = prob
					ns2.timesNS = appendCopy(cur.timesS, t)
				}
				b.updateContext(cur, id, ns2)

			default:
				// *a + b -> *ab
				newPrefix := appendCopy(prefix, id)
				ns := next.get(newPrefix)
				ns.ns = mathutil.LogAdd(ns.ns, cur.score()+prob)
				if ns.vns < cur.viterbiScore()+prob {
					ns.vns = cur.viterbiScore() + prob
					ns.curTokenProb = prob
					ns.timesNS = appendCopy(cur.times(), t)
				}
				b.updateContext(cur, id, ns)
			}
		}
	}

	totals := make([]float64, len(next.scores))
	for i, sc := range next.scores {
		totals[i] = sc.totalScore()
	}
	order := rankedOrder(totals, b.opts.SecondBeamSize)
	b.hyps = make([][]int, len(order))
	b.scores = make([]*prefixScore, len(order))
	for i, k := range order {
		b.hyps[i] = next.prefixes[k]
		b.scores[i] = next.scores[k]
	}
	b.refreshOutputs()
	b.absTimeStep++
}

func (b *PrefixBeamSearch) updateContext(from *prefixScore, id int, to *prefixScore) {
	if b.context == nil || to.hasContext {
		return
	}
	state, delta := b.context.Next(from.contextState, id)
	to.contextState = state
	to.contextScore = from.contextScore + delta
	to.hasContext = true
}

func (b *PrefixBeamSearch) refreshOutputs() {
	b.likelihood = make([]float64, len(b.scores))
	b.times = make([][]int, len(b.scores))
	for i, sc := range b.scores {
		b.likelihood[i] = sc.totalScore()
		b.times[i] = sc.times()
	}
}

// FinalizeSearch takes back the bonus of context phrases left unfinished
// and re-ranks the beam.
func (b *PrefixBeamSearch) FinalizeSearch() {
	if b.context == nil {
		return
	}
	totals := make([]float64, len(b.scores))
	for i, sc := range b.scores {
		sc.contextScore += b.context.Backoff(sc.contextState)
		sc.contextState = b.context.Start()
		totals[i] = sc.totalScore()
	}
	order := rankedOrder(totals, len(totals))
	hyps := make([][]int, len(order))
	scores := make([]*prefixScore, len(order))
	for i, k := range order {
		hyps[i] = b.hyps[k]
		scores[i] = b.scores[k]
	}
	b.hyps, b.scores = hyps, scores
	b.refreshOutputs()
}

// Inputs implements Searcher.
func (b *PrefixBeamSearch) Inputs() [][]int { return b.hyps }

// Outputs are the same units as Inputs.
func (b *PrefixBeamSearch) Outputs() [][]int { return b.hyps }

// Likelihood implements Searcher.
func (b *PrefixBeamSearch) Likelihood() []float64 { return b.likelihood }

// Times implements Searcher.
func (b *PrefixBeamSearch) Times() [][]int { return b.times }

// CurrentBeam implements Searcher.
func (b *PrefixBeamSearch) CurrentBeam() []Hypothesis {
	out := make([]Hypothesis, len(b.hyps))
	for i, h := range b.hyps {
		out[i] = Hypothesis{Inputs: h, Outputs: h, Times: b.times[i], Score: b.likelihood[i]}
	}
	return cloneHyps(out)
}
