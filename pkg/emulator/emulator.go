// Package emulator runs Z80 programs on a flat 64KB memory image.
//
// An Emulator owns its memory, register file and port table. Emulate
// copies a program to address 0 and executes it from PC=0 until PC runs
// past the end of the image or a HALT is reached, writing one trace line
// per executed instruction.
package emulator

import (
	"io"
	"log/slog"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
)

// Emulator is a single Z80 machine. It is not safe for concurrent use;
// run one Emulator per goroutine.
type Emulator struct {
	mem   cpu.Memory
	reg   cpu.Registers
	ports cpu.PortTable

	// Operand tables indexed by opcode fields. r[6] is nil; GetR
	// resolves it against HL on every access.
	r     [8]cpu.Cell
	rp    [4]*cpu.Pair
	rp2   [4]*cpu.Pair
	block [4][4]func(*Emulator)

	log *slog.Logger

	// Per-run state.
	trace  io.Writer
	werr   error
	end    int
	halted bool
	count  uint64
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithLogger sets the logger for run and decode events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emulator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithPort binds h to port.
func WithPort(port uint16, h cpu.PortHandler) Option {
	return func(e *Emulator) {
		e.ports.Bind(port, h)
	}
}

// New creates an Emulator in its reset state.
func New(opts ...Option) *Emulator {
	e := &Emulator{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset()
	return e
}

// Reset zeroes memory and registers, sets SP to 0xFFFF and rebuilds the
// operand tables. Port bindings are kept.
func (e *Emulator) Reset() {
	e.mem.Clear()
	e.reg = cpu.Registers{}
	e.reg.SP = cpu.MemorySize - 1
	e.count = 0
	e.halted = false
	e.buildTables()
	e.log.Debug("Emulator reset")
}

func (e *Emulator) buildTables() {
	m := &e.reg.Main
	e.r = [8]cpu.Cell{
		cpu.HighCell{P: &m.BC}, cpu.LowCell{P: &m.BC},
		cpu.HighCell{P: &m.DE}, cpu.LowCell{P: &m.DE},
		cpu.HighCell{P: &m.HL}, cpu.LowCell{P: &m.HL},
		nil,
		cpu.HighCell{P: &m.AF},
	}
	e.rp = [4]*cpu.Pair{&m.BC, &m.DE, &m.HL, &e.reg.SP}
	e.rp2 = [4]*cpu.Pair{&m.BC, &m.DE, &m.HL, &m.AF}
	e.block = [4][4]func(*Emulator){
		{(*Emulator).ldi, (*Emulator).cpi, (*Emulator).ini, (*Emulator).outi},
		{(*Emulator).ldd, (*Emulator).cpd, (*Emulator).ind, (*Emulator).outd},
		{(*Emulator).ldir, (*Emulator).cpir, (*Emulator).inir, (*Emulator).otir},
		{(*Emulator).lddr, (*Emulator).cpdr, (*Emulator).indr, (*Emulator).otdr},
	}
}

// BindPort installs h on port. A nil handler unbinds it.
func (e *Emulator) BindPort(port uint16, h cpu.PortHandler) {
	e.ports.Bind(port, h)
	e.log.Debug("Port bound", slog.Int("port", int(port)), slog.Bool("bound", h != nil))
}

// Port returns the handler bound to port, or nil.
func (e *Emulator) Port(port uint16) cpu.PortHandler {
	return e.ports.Handler(port)
}

// GetR returns the 8-bit operand cell for field value i (0-7).
// Index 6 is the memory byte addressed by HL at the time of the call.
func (e *Emulator) GetR(i uint8) cpu.Cell {
	if i == 6 {
		return cpu.MemCell{Mem: &e.mem, Addr: uint16(e.reg.Main.HL)}
	}
	return e.r[i]
}

// GetRP returns the register pair for p in the BC, DE, HL, SP table.
func (e *Emulator) GetRP(p uint8) *cpu.Pair { return e.rp[p] }

// GetRP2 returns the register pair for p in the BC, DE, HL, AF table.
func (e *Emulator) GetRP2(p uint8) *cpu.Pair { return e.rp2[p] }

// Push stores v on the stack, high byte first.
func (e *Emulator) Push(v uint16) {
	e.reg.SP--
	e.mem[uint16(e.reg.SP)] = uint8(v >> 8)
	e.reg.SP--
	e.mem[uint16(e.reg.SP)] = uint8(v)
}

// Pop removes and returns the word on top of the stack.
func (e *Emulator) Pop() uint16 {
	v := e.mem.ReadWord(uint16(e.reg.SP))
	e.reg.SP += 2
	return v
}

// In reads one byte from port. Unbound ports read as zero.
func (e *Emulator) In(port uint16) uint8 {
	v := e.ports.In(port)
	e.log.Debug("Port read", slog.Int("port", int(port)), slog.Int("value", int(v)))
	return v
}

// Out writes v to port. Writes to unbound ports are discarded.
func (e *Emulator) Out(port uint16, v uint8) {
	e.log.Debug("Port write", slog.Int("port", int(port)), slog.Int("value", int(v)))
	e.ports.Out(port, v)
}

// Registers returns a copy of the register file.
func (e *Emulator) Registers() cpu.Registers { return e.reg }

// SetRegisters replaces the register file. The operand tables keep
// pointing at the live registers, so no rebuild is needed.
func (e *Emulator) SetRegisters(r cpu.Registers) { e.reg = r }

// Memory returns the live memory image.
func (e *Emulator) Memory() *cpu.Memory { return &e.mem }

// Executed returns the number of instructions run by the last Emulate.
func (e *Emulator) Executed() uint64 { return e.count }

// Halted reports whether the last Emulate stopped on HALT.
func (e *Emulator) Halted() bool { return e.halted }
