package transcribe

import (
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"
)

// Output formats accepted by NewSink.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Sink writes outcomes from concurrent sessions and keeps running totals.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	format string
	nbest  bool
	refs   map[string]string

	summary Summary
}

// Summary aggregates every outcome a Sink has written.
type Summary struct {
	Utterances int
	AudioMs    int64
	DecodeMs   int64
	// WER covers only utterances with a reference transcript.
	WER    WERResult
	Scored int
}

// RTF is the overall real-time factor.
func (s Summary) RTF() float64 {
	if s.AudioMs == 0 {
		return 0
	}
	return float64(s.DecodeMs) / float64(s.AudioMs)
}

// NewSink returns a sink writing format to w. With nbest set, text output
// lists every candidate instead of the best sentence.
func NewSink(w io.Writer, format string, nbest bool) (*Sink, error) {
	switch format {
	case "", FormatText:
		format = FormatText
	case FormatJSON:
	default:
		return nil, fmt.Errorf("transcribe: unknown output format %q", format)
	}
	return &Sink{w: w, format: format, nbest: nbest}, nil
}

// SetReferences enables scoring against transcripts keyed by utterance ID.
func (s *Sink) SetReferences(refs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = refs
}

type jsonOutcome struct {
	Outcome
	Reference string     `json:"reference,omitempty"`
	WER       *WERResult `json:"wer,omitempty"`
}

// Write records one outcome.
func (s *Sink) Write(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.Utterances++
	s.summary.AudioMs += o.AudioMs
	s.summary.DecodeMs += o.DecodeMs

	rec := jsonOutcome{Outcome: o}
	if ref, ok := s.refs[o.ID]; ok {
		w := ComputeWER(ref, o.Text)
		s.summary.WER.Add(w)
		s.summary.Scored++
		rec.Reference, rec.WER = ref, &w
	}

	if s.format == FormatJSON {
		if !s.nbest {
			rec.NBest = nil
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("transcribe: encode %s: %w", o.ID, err)
		}
		_, err = fmt.Fprintf(s.w, "%s\n", data)
		return err
	}

	if !s.nbest {
		_, err := fmt.Fprintf(s.w, "%s %s\n", o.ID, o.Text)
		return err
	}
	if _, err := fmt.Fprintf(s.w, "wav %s\n", o.ID); err != nil {
		return err
	}
	for _, r := range o.NBest {
		if r.Sentence == "" {
			continue
		}
		if _, err := fmt.Fprintf(s.w, "candidate %.4f %s\n", r.Score, r.Sentence); err != nil {
			return err
		}
	}
	return nil
}

// Summary returns the totals so far.
func (s *Sink) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}
