package batch

import (
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
	"github.com/Cloaked9000/frZ80/pkg/snapshot"
)

// Result is the outcome of one job.
type Result struct {
	Name      string
	Trace     string
	Output    []byte
	Registers cpu.Registers
	Executed  uint64
	Halted    bool
	Err       error
}

// Table collects job results from concurrent workers.
type Table struct {
	mu      sync.Mutex
	results []Result
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add inserts a result into the table.
func (t *Table) Add(r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, r)
}

// Results returns a copy of all results, sorted by job name.
func (t *Table) Results() []Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Result, len(t.results))
	copy(out, t.results)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of results.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.results)
}

type jsonResult struct {
	Name      string                `json:"name"`
	Executed  uint64                `json:"executed"`
	Halted    bool                  `json:"halted"`
	Output    string                `json:"output,omitempty"`
	Error     string                `json:"error,omitempty"`
	Registers snapshot.RegisterDump `json:"registers"`
}

// WriteJSON writes results as a JSON array. Traces are omitted.
func WriteJSON(w io.Writer, results []Result) error {
	out := make([]jsonResult, len(results))
	for i, r := range results {
		out[i] = jsonResult{
			Name:      r.Name,
			Executed:  r.Executed,
			Halted:    r.Halted,
			Output:    string(r.Output),
			Registers: snapshot.Dump(r.Registers),
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
