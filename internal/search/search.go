// Package search advances a pruned beam of hypotheses over per-frame CTC
// log-probabilities.
//
// Two strategies share the Searcher contract: PrefixBeamSearch collapses
// prefixes directly over model units, and WfstBeamSearch walks a composed
// weighted automaton. Both keep their beam private; CurrentBeam is a copy.
package search

import (
	"encoding/binary"
	"slices"

	"github.com/chaz8081/gostt-stream/internal/topk"
)

// Type names a search strategy.
type Type int

const (
	PrefixBeam Type = iota
	WfstBeam
)

func (t Type) String() string {
	switch t {
	case PrefixBeam:
		return "prefix_beam"
	case WfstBeam:
		return "wfst_beam"
	default:
		return "unknown"
	}
}

// Hypothesis is one entry of the beam. Inputs are model units, Outputs are
// output symbols (equal to Inputs for prefix search) and Times holds the
// absolute model frame at which each input unit was emitted.
type Hypothesis struct {
	Inputs  []int
	Outputs []int
	Times   []int
	Score   float64
}

// Searcher is a frame-synchronous beam search.
type Searcher interface {
	Type() Type
	// Search advances the beam over every row of logp in order.
	Search(logp [][]float32)
	// AdvanceFrame advances the beam by one frame.
	AdvanceFrame(logp []float32)
	// FinalizeSearch applies end-of-utterance scoring.
	FinalizeSearch()
	Reset()

	Inputs() [][]int
	Outputs() [][]int
	Likelihood() []float64
	Times() [][]int

	// CurrentBeam returns a copy of the beam ordered by descending score.
	CurrentBeam() []Hypothesis
}

// seqKey encodes a unit sequence as a map key.
func seqKey(seq []int) string {
	b := make([]byte, 0, 4*len(seq))
	for _, v := range seq {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	return string(b)
}

// appendCopy returns a fresh slice holding s followed by vs, never sharing
// s's backing array.
func appendCopy(s []int, vs ...int) []int {
	out := make([]int, len(s), len(s)+len(vs))
	copy(out, s)
	return append(out, vs...)
}

// rankedOrder returns indices of scores ordered best first, ties by index.
func rankedOrder(scores []float64, k int) []int {
	_, idx := topk.SelectTopK(scores, k)
	return idx
}

func cloneHyps(in []Hypothesis) []Hypothesis {
	out := make([]Hypothesis, len(in))
	for i, h := range in {
		out[i] = Hypothesis{
			Inputs:  slices.Clone(h.Inputs),
			Outputs: slices.Clone(h.Outputs),
			Times:   slices.Clone(h.Times),
			Score:   h.Score,
		}
	}
	return out
}
