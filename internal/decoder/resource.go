package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chaz8081/gostt-stream/internal/asrmodel"
	"github.com/chaz8081/gostt-stream/internal/postproc"
	"github.com/chaz8081/gostt-stream/internal/search"
	"github.com/chaz8081/gostt-stream/internal/wfst"
)

// Resource is the read-only state shared by every decode session: the model,
// symbol tables, the optional automaton and context graph, and the text
// post-processor. Nothing reachable from it is mutated after construction.
type Resource struct {
	model       asrmodel.Model
	unitTable   *wfst.SymbolTable
	fst         *wfst.Fst
	symbolTable *wfst.SymbolTable
	context     *search.ContextGraph
	post        *postproc.Processor
}

// ResourceConfig lists the parts of a Resource. Fst and SymbolTable go
// together; Context and PostProcessor are optional.
type ResourceConfig struct {
	Model         asrmodel.Model
	UnitTable     *wfst.SymbolTable
	Fst           *wfst.Fst
	SymbolTable   *wfst.SymbolTable
	Context       *search.ContextGraph
	PostProcessor *postproc.Processor
}

// NewResource validates and assembles a Resource.
func NewResource(rc ResourceConfig) (*Resource, error) {
	if rc.Model == nil {
		return nil, errors.New("decoder: resource needs a model")
	}
	if rc.UnitTable == nil {
		return nil, errors.New("decoder: resource needs a unit table")
	}
	if rc.Fst != nil && rc.SymbolTable == nil {
		return nil, errors.New("decoder: an fst needs an output symbol table")
	}
	props := rc.Model.Properties()
	if rc.UnitTable.Size() != props.VocabSize {
		return nil, fmt.Errorf("decoder: unit table has %d symbols, model vocab is %d", rc.UnitTable.Size(), props.VocabSize)
	}
	post := rc.PostProcessor
	if post == nil {
		post = postproc.New(postproc.Options{})
	}
	return &Resource{
		model:       rc.Model,
		unitTable:   rc.UnitTable,
		fst:         rc.Fst,
		symbolTable: rc.SymbolTable,
		context:     rc.Context,
		post:        post,
	}, nil
}

// Model returns the shared acoustic model.
func (r *Resource) Model() asrmodel.Model { return r.model }

// UnitTable returns the model unit table.
func (r *Resource) UnitTable() *wfst.SymbolTable { return r.unitTable }

// Fst returns the decoding automaton or nil.
func (r *Resource) Fst() *wfst.Fst { return r.fst }

// SymbolTable returns the table that maps search outputs to text: the
// automaton's output table when there is one, else the unit table.
func (r *Resource) SymbolTable() *wfst.SymbolTable {
	if r.fst != nil {
		return r.symbolTable
	}
	return r.unitTable
}

// ContextGraph returns the biasing graph or nil.
func (r *Resource) ContextGraph() *search.ContextGraph { return r.context }

// PostProcessor returns the text post-processor.
func (r *Resource) PostProcessor() *postproc.Processor { return r.post }

// ModelLoader opens an acoustic-model engine from path.
type ModelLoader func(path string) (asrmodel.Model, error)

// Files names the on-disk parts of a Resource and the engine that reads
// ModelPath.
type Files struct {
	LoadModel    ModelLoader
	ModelPath    string
	UnitPath     string
	FstPath      string
	DictPath     string
	ContextPath  string
	ContextScore float64
	Post         postproc.Options
}

// LoadResource reads every file named in f and builds the Resource.
func LoadResource(f Files) (*Resource, error) {
	if f.LoadModel == nil {
		return nil, errors.New("decoder: no model loader")
	}
	model, err := f.LoadModel(f.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("decoder: load model: %w", err)
	}
	units, err := wfst.LoadSymbolTable(f.UnitPath)
	if err != nil {
		return nil, fmt.Errorf("decoder: load units: %w", err)
	}
	rc := ResourceConfig{
		Model:         model,
		UnitTable:     units,
		PostProcessor: postproc.New(f.Post),
	}
	if f.FstPath != "" {
		if rc.Fst, err = wfst.Load(f.FstPath); err != nil {
			return nil, fmt.Errorf("decoder: load fst: %w", err)
		}
		if rc.SymbolTable, err = wfst.LoadSymbolTable(f.DictPath); err != nil {
			return nil, fmt.Errorf("decoder: load dict: %w", err)
		}
	}
	if f.ContextPath != "" {
		phrases, err := readLines(f.ContextPath)
		if err != nil {
			return nil, fmt.Errorf("decoder: load context: %w", err)
		}
		var ids [][]int
		var skipped []string
		if rc.Fst != nil {
			ids, skipped = search.WordPhrases(phrases, rc.SymbolTable)
		} else {
			ids, skipped = search.UnitPhrases(phrases, units)
		}
		for _, p := range skipped {
			slog.Warn("context phrase not covered by symbol table, skipped", "phrase", p)
		}
		rc.Context = search.NewContextGraph(ids, f.ContextScore)
		slog.Info("context graph built", "phrases", len(ids), "states", rc.Context.NumStates())
	}
	return NewResource(rc)
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
