package ports

import (
	"bytes"
	"sync"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
)

// Recorder is an in-memory port device. Reads consume queued input and
// return 0 when it runs out; writes are captured.
type Recorder struct {
	mu     sync.Mutex
	input  []byte
	output bytes.Buffer
	reads  int
	writes int
}

// NewRecorder creates a Recorder that will serve input to IN instructions.
func NewRecorder(input []byte) *Recorder {
	return &Recorder{input: bytes.Clone(input)}
}

// Port implements cpu.PortHandler.
func (r *Recorder) Port(dir cpu.Direction, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir == cpu.Write {
		r.writes++
		r.output.WriteByte(data[0])
		return
	}
	r.reads++
	if len(r.input) == 0 {
		data[0] = 0
		return
	}
	data[0] = r.input[0]
	r.input = r.input[1:]
}

// Output returns a copy of everything written so far.
func (r *Recorder) Output() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.output.Bytes())
}

// Counts returns the number of reads and writes served.
func (r *Recorder) Counts() (reads, writes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads, r.writes
}
