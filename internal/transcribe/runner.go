// Package transcribe runs decode sessions over whole recordings or live
// audio and writes their results.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chaz8081/gostt-stream/internal/decoder"
	"github.com/chaz8081/gostt-stream/internal/frontend"
	"github.com/chaz8081/gostt-stream/internal/metrics"
)

// Options controls how a Runner drives its sessions.
type Options struct {
	// Continuous splits input at endpoints and decodes each part as its
	// own utterance.
	Continuous bool
	// SimulateStreaming paces decoding at the speed audio would arrive.
	SimulateStreaming bool
}

// Segment is one finished utterance within a stream.
type Segment struct {
	Index int
	// Final is set on the segment that ends the stream.
	Final bool
	Best  decoder.Result
	NBest []decoder.Result
}

// Outcome is the result of decoding one recording.
type Outcome struct {
	ID       string              `json:"utt"`
	Text     string              `json:"text"`
	Words    []decoder.WordPiece `json:"words,omitempty"`
	NBest    []decoder.Result    `json:"nbest,omitempty"`
	Segments int                 `json:"segments"`
	AudioMs  int64               `json:"audio_ms"`
	DecodeMs int64               `json:"decode_ms"`
}

// RTF is the real-time factor of the decode.
func (o Outcome) RTF() float64 {
	if o.AudioMs == 0 {
		return 0
	}
	return float64(o.DecodeMs) / float64(o.AudioMs)
}

// Runner creates sessions over a shared resource.
type Runner struct {
	res     *decoder.Resource
	decode  decoder.Options
	feature frontend.Config
	opts    Options
}

// NewRunner validates the option sets once for every session it will create.
func NewRunner(res *decoder.Resource, decode decoder.Options, feature frontend.Config, opts Options) (*Runner, error) {
	if err := feature.Validate(); err != nil {
		return nil, err
	}
	if err := decode.Validate(); err != nil {
		return nil, err
	}
	return &Runner{res: res, decode: decode, feature: feature, opts: opts}, nil
}

// SampleRate is the rate sessions expect input at.
func (r *Runner) SampleRate() int { return r.feature.SampleRate }

// NewSession returns a fresh feature pipeline and the decoder reading it.
func (r *Runner) NewSession() (*frontend.Pipeline, *decoder.Decoder, error) {
	p, err := frontend.NewPipeline(r.feature)
	if err != nil {
		return nil, nil, err
	}
	d, err := decoder.New(p, r.res, r.decode)
	if err != nil {
		return nil, nil, err
	}
	return p, d, nil
}

// Decode runs one recording to completion.
func (r *Runner) Decode(ctx context.Context, id string, samples []float32) (Outcome, error) {
	p, d, err := r.NewSession()
	if err != nil {
		return Outcome{}, err
	}
	log := slog.With("utt", id, "session", d.ID())
	metrics.SessionStarted()
	defer metrics.SessionEnded()

	p.AcceptWaveform(samples)
	p.SetInputFinished()

	out := Outcome{
		ID:      id,
		AudioMs: int64(len(samples)) * 1000 / int64(r.feature.SampleRate),
	}
	var texts []string
	start := time.Now()
	err = r.Stream(ctx, d, func(seg Segment) {
		out.Segments++
		if seg.Best.Sentence != "" {
			texts = append(texts, seg.Best.Sentence)
			out.Words = append(out.Words, seg.Best.Words...)
		}
		if seg.Final {
			out.NBest = seg.NBest
		}
	})
	out.DecodeMs = time.Since(start).Milliseconds()
	if err != nil {
		metrics.RecordUtterance("error")
		return out, fmt.Errorf("transcribe: decode %s: %w", id, err)
	}
	out.Text = strings.Join(texts, " ")

	metrics.RecordUtterance("ok")
	metrics.RecordAudio(time.Duration(out.AudioMs)*time.Millisecond, time.Duration(out.DecodeMs)*time.Millisecond)
	log.Info("decoded",
		"text", out.Text,
		"segments", out.Segments,
		"audio_ms", out.AudioMs,
		"decode_ms", out.DecodeMs,
		"rtf", fmt.Sprintf("%.3f", out.RTF()),
	)
	return out, nil
}

// Stream decodes from d until its input is finished, calling emit for
// every utterance. With Continuous set, each endpoint closes a segment and
// decoding resumes on the same stream. A cancelled ctx stops the loop
// between chunks.
func (r *Runner) Stream(ctx context.Context, d *decoder.Decoder, emit func(Segment)) error {
	index := 0
	finish := func(final bool) error {
		start := time.Now()
		if err := d.Rescoring(); err != nil {
			return err
		}
		metrics.RecordRescore(time.Since(start))
		emit(Segment{Index: index, Final: final, Best: d.Best(), NBest: d.Result()})
		index++
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		state, err := d.Decode(true)
		if err != nil {
			return err
		}
		elapsed := time.Since(start)
		metrics.RecordChunk(elapsed)

		if r.opts.SimulateStreaming {
			chunkMs := d.NumFramesInCurrentChunk() * d.FeatureFrameShiftInMs()
			if wait := time.Duration(chunkMs)*time.Millisecond - elapsed; wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		switch state {
		case decoder.EndFeats:
			return finish(true)
		case decoder.Endpoint:
			if !r.opts.Continuous {
				continue
			}
			metrics.RecordEndpoint()
			if err := finish(false); err != nil {
				return err
			}
			d.ResetContinuousDecoding()
		}
	}
}
