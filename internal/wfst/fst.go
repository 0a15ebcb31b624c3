package wfst

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Epsilon is the reserved empty label.
const Epsilon = 0

// Arc is a transition. Weight is a tropical cost (negative log probability).
type Arc struct {
	ILabel    int
	OLabel    int
	Weight    float32
	NextState int
}

type state struct {
	arcs  []Arc
	final float32
}

// Fst is an immutable weighted transducer.
type Fst struct {
	start  int
	states []state
}

// Load reads an automaton in AT&T text format from path.
func Load(path string) (*Fst, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wfst: open fst: %w", err)
	}
	defer f.Close()

	fst, err := ReadText(f)
	if err != nil {
		return nil, fmt.Errorf("wfst: %s: %w", path, err)
	}
	return fst, nil
}

// ReadText parses the AT&T text format: arc lines "src dst ilabel olabel
// [weight]" and final lines "state [weight]". The source of the first arc
// line is the start state. Labels are numeric.
func ReadText(r io.Reader) (*Fst, error) {
	f := &Fst{start: -1}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		switch len(fields) {
		case 0:
			continue
		case 1, 2:
			s, err := parseState(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			w := float32(0)
			if len(fields) == 2 {
				if w, err = parseWeight(fields[1]); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
			f.grow(s)
			f.states[s].final = w
			if f.start < 0 {
				f.start = s
			}
		case 4, 5:
			src, err := parseState(fields[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			dst, err := parseState(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			il, err1 := strconv.Atoi(fields[2])
			ol, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil || il < 0 || ol < 0 {
				return nil, fmt.Errorf("line %d: invalid labels %q %q", lineNo, fields[2], fields[3])
			}
			w := float32(0)
			if len(fields) == 5 {
				if w, err = parseWeight(fields[4]); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
			f.grow(max(src, dst))
			f.states[src].arcs = append(f.states[src].arcs, Arc{ILabel: il, OLabel: ol, Weight: w, NextState: dst})
			if f.start < 0 {
				f.start = src
			}
		default:
			return nil, fmt.Errorf("line %d: malformed fst line %q", lineNo, sc.Text())
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading fst: %w", err)
	}
	if f.start < 0 {
		return nil, fmt.Errorf("empty fst")
	}
	return f, nil
}

func (f *Fst) grow(s int) {
	for len(f.states) <= s {
		f.states = append(f.states, state{final: float32(math.Inf(1))})
	}
}

func parseState(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid state %q", s)
	}
	return v, nil
}

func parseWeight(s string) (float32, error) {
	if s == "Infinity" || s == "inf" {
		return float32(math.Inf(1)), nil
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid weight %q", s)
	}
	return float32(v), nil
}

// Start returns the start state.
func (f *Fst) Start() int { return f.start }

// NumStates returns the number of states.
func (f *Fst) NumStates() int { return len(f.states) }

// Arcs returns the outgoing arcs of s. The slice must not be modified.
func (f *Fst) Arcs(s int) []Arc {
	if s < 0 || s >= len(f.states) {
		return nil
	}
	return f.states[s].arcs
}

// Final returns the final cost of s and whether s is final.
func (f *Fst) Final(s int) (float32, bool) {
	if s < 0 || s >= len(f.states) {
		return 0, false
	}
	w := f.states[s].final
	return w, !math.IsInf(float64(w), 1)
}
