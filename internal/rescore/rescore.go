// Package rescore fuses first-pass hypotheses with attention-decoder scores.
package rescore

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/chaz8081/gostt-stream/internal/asrmodel"
	"github.com/chaz8081/gostt-stream/internal/tensor"
)

// ErrNoBackwardDecoder is returned when a reverse weight is requested from a
// model without a right-to-left decoder.
var ErrNoBackwardDecoder = errors.New("rescore: reverse weight needs a bidirectional model")

// PathScore sums the log-probability of each token of hyp at its own
// position plus the end-of-sequence log-probability right after the last
// token. Padding rows beyond len(hyp) are never read.
func PathScore(prob tensor.Mat, hyp []int, eos int) float64 {
	var score float64
	for i, tok := range hyp {
		score += float64(prob.Data[i*prob.C+tok])
	}
	score += float64(prob.Data[len(hyp)*prob.C+eos])
	return score
}

// BuildBatch prefixes every hypothesis with sos and pads with eos to the
// longest one plus the sos position.
func BuildBatch(hyps [][]int, sos, eos int) asrmodel.Batch {
	maxLen := 0
	for _, h := range hyps {
		maxLen = max(maxLen, len(h))
	}
	batch := asrmodel.Batch{
		Tokens: make([][]int, len(hyps)),
		Lens:   make([]int, len(hyps)),
	}
	for i, h := range hyps {
		row := make([]int, maxLen+1)
		row[0] = sos
		copy(row[1:], h)
		for j := len(h) + 1; j < len(row); j++ {
			row[j] = eos
		}
		batch.Tokens[i] = row
		batch.Lens[i] = len(h) + 1
	}
	return batch
}

// Rescore returns the fused attention score of every hypothesis:
// left*(1-reverseWeight) + right*reverseWeight, where right is the path
// score of the reversed hypothesis under the backward decoder.
//
// No hypotheses yields an empty result without calling the model. An empty
// encoder output is logged and yields zeros.
func Rescore(model asrmodel.Model, hyps [][]int, encoderOut tensor.Mat, reverseWeight float64) ([]float64, error) {
	if len(hyps) == 0 {
		return nil, nil
	}
	props := model.Properties()
	if reverseWeight > 0 && !props.Bidirectional {
		return nil, ErrNoBackwardDecoder
	}
	scores := make([]float64, len(hyps))
	if encoderOut.Empty() {
		slog.Warn("rescore: no encoder output, skipping attention rescoring", "hyps", len(hyps))
		return scores, nil
	}

	out, err := model.ForwardAttentionDecoder(BuildBatch(hyps, props.SOS, props.EOS), encoderOut)
	if err != nil {
		return nil, fmt.Errorf("rescore: forward attention decoder: %w", err)
	}
	if len(out.Forward) != len(hyps) {
		return nil, fmt.Errorf("rescore: decoder returned %d outputs for %d hypotheses", len(out.Forward), len(hyps))
	}
	useBackward := reverseWeight > 0
	if useBackward && len(out.Backward) != len(hyps) {
		return nil, fmt.Errorf("rescore: decoder returned %d backward outputs for %d hypotheses", len(out.Backward), len(hyps))
	}

	for i, hyp := range hyps {
		if err := checkShape(out.Forward[i], hyp, props.EOS); err != nil {
			return nil, fmt.Errorf("rescore: hypothesis %d: %w", i, err)
		}
		left := PathScore(out.Forward[i], hyp, props.EOS)
		var right float64
		if useBackward {
			if err := checkShape(out.Backward[i], hyp, props.EOS); err != nil {
				return nil, fmt.Errorf("rescore: hypothesis %d backward: %w", i, err)
			}
			reversed := slices.Clone(hyp)
			slices.Reverse(reversed)
			right = PathScore(out.Backward[i], reversed, props.EOS)
		}
		scores[i] = left*(1-reverseWeight) + right*reverseWeight
	}
	return scores, nil
}

func checkShape(prob tensor.Mat, hyp []int, eos int) error {
	if prob.R < len(hyp)+1 {
		return fmt.Errorf("decoder output has %d positions, need %d", prob.R, len(hyp)+1)
	}
	if eos >= prob.C {
		return fmt.Errorf("eos %d outside vocab of %d", eos, prob.C)
	}
	for _, tok := range hyp {
		if tok < 0 || tok >= prob.C {
			return fmt.Errorf("token %d outside vocab of %d", tok, prob.C)
		}
	}
	return nil
}
