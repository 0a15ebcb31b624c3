// Package postproc turns decoded model units into display text.
package postproc

import (
	"strings"
	"unicode"
)

// WordMarker is the SentencePiece word-boundary prefix.
const WordMarker = "▁"

// Options configures a Processor.
type Options struct {
	// Lowercase folds Latin letters to lower case.
	Lowercase bool `yaml:"lowercase"`
}

// Processor normalizes decoded text. It holds no mutable state and is safe
// for concurrent use.
type Processor struct {
	opts Options
}

// New creates a Processor.
func New(opts Options) *Processor {
	return &Processor{opts: opts}
}

// Process replaces word markers with spaces, drops spaces next to CJK
// characters, collapses runs of spaces and trims the result.
func (p *Processor) Process(text string) string {
	text = strings.ReplaceAll(text, WordMarker, " ")
	runes := []rune(text)

	var b strings.Builder
	var prev rune
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
			prev = r
			continue
		}
		j := i
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if prev != 0 && j < len(runes) && !IsCJK(prev) && !IsCJK(runes[j]) {
			b.WriteByte(' ')
		}
		i = j - 1
	}
	out := b.String()
	if p.opts.Lowercase {
		out = strings.ToLower(out)
	}
	return out
}

// Piece returns the display form of a single unit.
func (p *Processor) Piece(unit string) string {
	out := strings.TrimPrefix(unit, WordMarker)
	if p.opts.Lowercase {
		out = strings.ToLower(out)
	}
	return out
}

// IsWordStart reports whether unit begins a new word: it carries the word
// marker or is a CJK character, which stands alone.
func IsWordStart(unit string) bool {
	if strings.HasPrefix(unit, WordMarker) {
		return true
	}
	for _, r := range unit {
		return IsCJK(r)
	}
	return false
}

// IsCJK reports whether r is written without spaces between words.
func IsCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
