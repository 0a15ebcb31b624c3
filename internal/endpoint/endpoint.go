// Package endpoint detects utterance boundaries in continuous audio from the
// CTC blank dominance of each decoded frame.
package endpoint

import "fmt"

// Rule fires when enough trailing silence and total length have been seen.
type Rule struct {
	MustDecodedSomething bool `yaml:"must_decoded_sth"`
	MinTrailingSilenceMs int  `yaml:"min_trailing_silence_ms"`
	MinUtteranceLengthMs int  `yaml:"min_utterance_length_ms"`
}

func (r Rule) fires(decoded bool, trailingSilenceMs, utteranceMs int) bool {
	if r.MustDecodedSomething && !decoded {
		return false
	}
	return trailingSilenceMs >= r.MinTrailingSilenceMs && utteranceMs >= r.MinUtteranceLengthMs
}

// Config holds the detector thresholds.
type Config struct {
	Blank int
	// SilenceMargin: a frame is silent when the blank log-probability
	// exceeds the best non-blank one by more than this.
	SilenceMargin float64
	// Rule1 ends an utterance after a long silence, decoded or not.
	Rule1 Rule
	// Rule2 ends an utterance after speech followed by a shorter silence.
	Rule2 Rule
	// Rule3 caps utterance length.
	Rule3 Rule
	// FrameShiftMs is the duration of one decoded frame.
	FrameShiftMs int
}

// DefaultConfig returns the standard thresholds for a frameShiftMs decoded
// frame.
func DefaultConfig(frameShiftMs int) Config {
	return Config{
		Blank:         0,
		SilenceMargin: 2.0,
		Rule1:         Rule{MustDecodedSomething: false, MinTrailingSilenceMs: 5000},
		Rule2:         Rule{MustDecodedSomething: true, MinTrailingSilenceMs: 1000},
		Rule3:         Rule{MustDecodedSomething: false, MinUtteranceLengthMs: 20000},
		FrameShiftMs:  frameShiftMs,
	}
}

// State is the detector state.
type State int

const (
	NotStarted State = iota
	Speaking
	Fired
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Speaking:
		return "speaking"
	case Fired:
		return "fired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Detector is a per-session endpoint state machine.
type Detector struct {
	cfg Config

	state                 State
	numFrames             int
	trailingSilenceFrames int
}

// New creates a detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Reset starts a new utterance.
func (d *Detector) Reset() {
	d.state = NotStarted
	d.numFrames = 0
	d.trailingSilenceFrames = 0
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// NumFrames returns the frames observed since Reset.
func (d *Detector) NumFrames() int { return d.numFrames }

// TrailingSilenceFrames returns the current run of silent frames.
func (d *Detector) TrailingSilenceFrames() int { return d.trailingSilenceFrames }

// IsSilence classifies one frame of log-probabilities.
func (d *Detector) IsSilence(logp []float32) bool {
	if d.cfg.Blank < 0 || d.cfg.Blank >= len(logp) {
		return false
	}
	blank := float64(logp[d.cfg.Blank])
	best := -1e30
	for i, v := range logp {
		if i != d.cfg.Blank && float64(v) > best {
			best = float64(v)
		}
	}
	return blank-best > d.cfg.SilenceMargin
}

// ObserveFrame advances the state machine by one classified frame and
// reports whether the endpoint has fired. Once fired it stays fired until
// Reset.
func (d *Detector) ObserveFrame(silent, decodedSomething bool) bool {
	if d.state == Fired {
		return true
	}
	d.numFrames++
	if silent {
		d.trailingSilenceFrames++
	} else {
		d.trailingSilenceFrames = 0
		d.state = Speaking
	}

	silenceMs := d.trailingSilenceFrames * d.cfg.FrameShiftMs
	utteranceMs := d.numFrames * d.cfg.FrameShiftMs
	for _, r := range []Rule{d.cfg.Rule1, d.cfg.Rule2, d.cfg.Rule3} {
		if r.fires(decodedSomething, silenceMs, utteranceMs) {
			d.state = Fired
			return true
		}
	}
	return false
}

// IsEndpoint observes a chunk of frames and reports whether a boundary fired
// within it.
func (d *Detector) IsEndpoint(logp [][]float32, decodedSomething bool) bool {
	if d.state == Fired {
		return true
	}
	for _, frame := range logp {
		if d.ObserveFrame(d.IsSilence(frame), decodedSomething) {
			return true
		}
	}
	return false
}
