// Package wfst loads the read-only decoding resources built offline: symbol
// tables and a weighted finite-state transducer in AT&T text form.
package wfst

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SymbolTable maps between symbol strings and integer ids. It is immutable
// after loading.
type SymbolTable struct {
	byID  map[int]string
	bySym map[string]int
}

// LoadSymbolTable reads a symbol table file.
func LoadSymbolTable(path string) (*SymbolTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wfst: open symbol table: %w", err)
	}
	defer f.Close()

	st, err := ReadSymbolTable(f)
	if err != nil {
		return nil, fmt.Errorf("wfst: %s: %w", path, err)
	}
	return st, nil
}

// ReadSymbolTable parses "<symbol> <id>" lines. Blank lines are skipped; any
// other malformed line is an error.
func ReadSymbolTable(r io.Reader) (*SymbolTable, error) {
	st := &SymbolTable{
		byID:  make(map[int]string),
		bySym: make(map[string]int),
	}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"<symbol> <id>\", got %q", lineNo, sc.Text())
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("line %d: invalid id %q", lineNo, fields[1])
		}
		st.byID[id] = fields[0]
		st.bySym[fields[0]] = id
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}
	return st, nil
}

// NewSymbolTable builds a table from symbols indexed by position.
func NewSymbolTable(symbols []string) *SymbolTable {
	st := &SymbolTable{
		byID:  make(map[int]string, len(symbols)),
		bySym: make(map[string]int, len(symbols)),
	}
	for id, s := range symbols {
		st.byID[id] = s
		st.bySym[s] = id
	}
	return st
}

// Find returns the symbol for id.
func (st *SymbolTable) Find(id int) (string, bool) {
	s, ok := st.byID[id]
	return s, ok
}

// ID returns the id for symbol.
func (st *SymbolTable) ID(symbol string) (int, bool) {
	id, ok := st.bySym[symbol]
	return id, ok
}

// Size returns the number of symbols.
func (st *SymbolTable) Size() int { return len(st.byID) }
