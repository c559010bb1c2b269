// Package batch runs many programs in parallel, one emulator per worker.
package batch

import (
	"bytes"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Cloaked9000/frZ80/pkg/emulator"
	"github.com/Cloaked9000/frZ80/pkg/ports"
)

// Job is one program to run.
type Job struct {
	Name    string
	Program []byte
	Input   []byte // served to IN on Port
	Port    uint16 // port for Input and captured output
	Trace   bool   // keep the trace in the result
}

// Pool manages parallel emulator workers.
type Pool struct {
	NumWorkers int
	Results    *Table

	// Setup, if set, is called once for each worker's emulator before
	// it runs any job. It may bind extra ports. A job's recorder shadows
	// a Setup handler on the same port for that job only.
	Setup func(e *emulator.Emulator)

	log    *slog.Logger
	ran    atomic.Int64
	failed atomic.Int64
}

// NewPool creates a pool with the given number of workers.
// numWorkers <= 0 selects one worker per CPU.
func NewPool(numWorkers int, log *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		NumWorkers: numWorkers,
		Results:    NewTable(),
		log:        log,
	}
}

// Stats returns the number of jobs run and how many of them failed.
func (p *Pool) Stats() (ran, failed int64) {
	return p.ran.Load(), p.failed.Load()
}

// Run distributes jobs across workers and waits for all of them.
func (p *Pool) Run(jobs []Job) *Table {
	ch := make(chan Job, len(jobs))
	for _, j := range jobs {
		ch <- j
	}
	close(ch)

	var wg sync.WaitGroup
	for i := 0; i < p.NumWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e := emulator.New(emulator.WithLogger(p.log.With(slog.Int("worker", id))))
			if p.Setup != nil {
				p.Setup(e)
			}
			for job := range ch {
				p.Results.Add(p.runJob(e, job))
			}
		}(i)
	}
	wg.Wait()
	return p.Results
}

// runJob runs one job on a freshly reset emulator.
func (p *Pool) runJob(e *emulator.Emulator, job Job) Result {
	e.Reset()
	rec := ports.NewRecorder(job.Input)
	prev := e.Port(job.Port)
	e.BindPort(job.Port, rec)
	defer e.BindPort(job.Port, prev)

	var trace bytes.Buffer
	err := e.Emulate(job.Program, &trace)

	p.ran.Add(1)
	if err != nil {
		p.failed.Add(1)
		p.log.Warn("Job failed", slog.String("job", job.Name), slog.Any("error", err))
	}

	r := Result{
		Name:      job.Name,
		Output:    rec.Output(),
		Registers: e.Registers(),
		Executed:  e.Executed(),
		Halted:    e.Halted(),
		Err:       err,
	}
	if job.Trace {
		r.Trace = trace.String()
	}
	return r
}
