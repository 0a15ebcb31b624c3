package decoder

import (
	"math"
	"strings"

	"github.com/chaz8081/gostt-stream/internal/postproc"
)

// NoHypothesisScore is the score of an empty result.
const NoHypothesisScore = -math.MaxFloat32

// WordPiece is a unit or word with its span in milliseconds.
type WordPiece struct {
	Word  string `json:"word"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Result is one ranked hypothesis. WordPieces and Words are only filled
// for final results.
type Result struct {
	Score      float64     `json:"score"`
	Sentence   string      `json:"sentence"`
	WordPieces []WordPiece `json:"word_pieces,omitempty"`
	Words      []WordPiece `json:"words,omitempty"`
}

// unitPieces places every unit on the time axis. A unit starts gapMs before
// its frame, or halfway from the previous unit when that is closer, and ends
// at its frame, or halfway to the next unit when that is closer.
func unitPieces(units []string, times []int, frameShiftMs, gapMs, offsetMs int) []WordPiece {
	pieces := make([]WordPiece, 0, len(units))
	for j, unit := range units {
		start := max(times[j]*frameShiftMs-gapMs, 0)
		if j > 0 && (times[j]-times[j-1])*frameShiftMs < gapMs {
			start = (times[j-1] + times[j]) / 2 * frameShiftMs
		}
		end := times[j] * frameShiftMs
		if j < len(units)-1 && (times[j+1]-times[j])*frameShiftMs < gapMs {
			end = (times[j+1] + times[j]) / 2 * frameShiftMs
		}
		pieces = append(pieces, WordPiece{Word: unit, Start: offsetMs + start, End: offsetMs + end})
	}
	return pieces
}

// groupWords joins unit pieces into words. A word starts at a word-initial
// unit or when the unit's frame is more than gapMs after the previous one.
func groupWords(pieces []WordPiece, times []int, frameShiftMs int, post *postproc.Processor, gapMs int) []WordPiece {
	var words []WordPiece
	var b strings.Builder
	for i, p := range pieces {
		newWord := i == 0 || postproc.IsWordStart(p.Word) || (times[i]-times[i-1])*frameShiftMs > gapMs
		if newWord && i > 0 {
			words[len(words)-1].Word = b.String()
			b.Reset()
		}
		if newWord {
			words = append(words, WordPiece{Start: p.Start, End: p.End})
		}
		b.WriteString(post.Piece(p.Word))
		words[len(words)-1].End = p.End
	}
	if len(words) > 0 {
		words[len(words)-1].Word = b.String()
	}
	return words
}
