package search

import (
	"strings"

	"github.com/chaz8081/gostt-stream/internal/wfst"
)

// ContextGraph biases the search toward a list of phrases. Every matched
// symbol earns Score; leaving a phrase before it completes takes back the
// bonus earned since the last completed phrase.
type ContextGraph struct {
	score float64
	nodes []contextNode
}

type contextNode struct {
	next map[int]int
	// pending is the bonus earned on the path from the last completed
	// phrase (or the root) down to this node.
	pending float64
	final   bool
}

// NewContextGraph builds the trie over phrases given as symbol id sequences.
// Empty phrases are ignored.
func NewContextGraph(phrases [][]int, score float64) *ContextGraph {
	g := &ContextGraph{score: score, nodes: []contextNode{{next: map[int]int{}}}}
	for _, phrase := range phrases {
		if len(phrase) == 0 {
			continue
		}
		cur := 0
		for _, id := range phrase {
			nxt, ok := g.nodes[cur].next[id]
			if !ok {
				g.nodes = append(g.nodes, contextNode{next: map[int]int{}})
				nxt = len(g.nodes) - 1
				g.nodes[cur].next[id] = nxt
			}
			cur = nxt
		}
		g.nodes[cur].final = true
	}
	// children always follow their parent in nodes
	for i := range g.nodes {
		base := g.nodes[i].pending
		if g.nodes[i].final {
			base = 0
		}
		for _, child := range g.nodes[i].next {
			g.nodes[child].pending = base + score
		}
	}
	return g
}

// Start is the root state.
func (g *ContextGraph) Start() int { return 0 }

// Next moves from state on symbol id and returns the new state and the score
// change. A completed phrase with no longer continuation returns to the root
// keeping its bonus.
func (g *ContextGraph) Next(state, id int) (int, float64) {
	var delta float64
	if state < 0 || state >= len(g.nodes) {
		state = 0
	}
	if nxt, ok := g.nodes[state].next[id]; ok {
		return g.settle(nxt), g.score
	}
	if state != 0 {
		delta = -g.nodes[state].pending
	}
	if nxt, ok := g.nodes[0].next[id]; ok {
		return g.settle(nxt), delta + g.score
	}
	return 0, delta
}

func (g *ContextGraph) settle(s int) int {
	n := g.nodes[s]
	if n.final && len(n.next) == 0 {
		return 0
	}
	return s
}

// Backoff returns the score change for ending the utterance in state.
func (g *ContextGraph) Backoff(state int) float64 {
	if state <= 0 || state >= len(g.nodes) {
		return 0
	}
	n := g.nodes[state]
	if n.final {
		return 0
	}
	return -n.pending
}

// NumStates returns the trie size including the root.
func (g *ContextGraph) NumStates() int { return len(g.nodes) }

// UnitPhrases splits text phrases into model units by greedy longest match
// against the unit table. A word's first unit is tried with the "▁" word
// marker first. Phrases containing text no unit covers are returned in
// skipped.
func UnitPhrases(phrases []string, units *wfst.SymbolTable) (ids [][]int, skipped []string) {
	for _, phrase := range phrases {
		seq, ok := splitUnits(phrase, units)
		if !ok {
			skipped = append(skipped, phrase)
			continue
		}
		ids = append(ids, seq)
	}
	return ids, skipped
}

func splitUnits(phrase string, units *wfst.SymbolTable) ([]int, bool) {
	var seq []int
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil, false
	}
	for _, word := range words {
		rest := []rune(word)
		first := true
		for len(rest) > 0 {
			matched := 0
			id := -1
			for end := len(rest); end > 0; end-- {
				piece := string(rest[:end])
				if first {
					if v, ok := units.ID("▁" + piece); ok {
						matched, id = end, v
						break
					}
				}
				if v, ok := units.ID(piece); ok {
					matched, id = end, v
					break
				}
			}
			if matched == 0 {
				return nil, false
			}
			seq = append(seq, id)
			rest = rest[matched:]
			first = false
		}
	}
	return seq, true
}

// WordPhrases maps whitespace-separated words to output symbol ids.
// Phrases with a word missing from the table are returned in skipped.
func WordPhrases(phrases []string, words *wfst.SymbolTable) (ids [][]int, skipped []string) {
	for _, phrase := range phrases {
		var seq []int
		ok := true
		for _, w := range strings.Fields(phrase) {
			id, found := words.ID(w)
			if !found {
				ok = false
				break
			}
			seq = append(seq, id)
		}
		if !ok || len(seq) == 0 {
			skipped = append(skipped, phrase)
			continue
		}
		ids = append(ids, seq)
	}
	return ids, skipped
}
