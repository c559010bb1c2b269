// Package snapshot saves and restores complete machine state.
package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
	"github.com/Cloaked9000/frZ80/pkg/emulator"
)

// Snapshot holds everything needed to resume inspection of a run.
type Snapshot struct {
	Registers  cpu.Registers
	Memory     []byte
	ProgramLen int  // length of the image that was executed
	Halted     bool // run stopped on HALT
}

// Capture copies the emulator's current state.
func Capture(e *emulator.Emulator, programLen int) *Snapshot {
	mem := e.Memory()
	return &Snapshot{
		Registers:  e.Registers(),
		Memory:     append([]byte(nil), mem[:]...),
		ProgramLen: programLen,
		Halted:     e.Halted(),
	}
}

// Validate checks that the snapshot describes a full address space.
func (s *Snapshot) Validate() error {
	if len(s.Memory) != cpu.MemorySize {
		return fmt.Errorf("snapshot: memory image is %d bytes, want %d", len(s.Memory), cpu.MemorySize)
	}
	if s.ProgramLen < 0 || s.ProgramLen > cpu.MemorySize {
		return fmt.Errorf("snapshot: program length %d out of range", s.ProgramLen)
	}
	return nil
}

// Restore loads the snapshot's registers and memory into e.
func (s *Snapshot) Restore(e *emulator.Emulator) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.SetRegisters(s.Registers)
	copy(e.Memory()[:], s.Memory)
	return nil
}

// Save writes a snapshot to a file.
func Save(path string, s *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(s)
}

// Load reads a snapshot from a file and validates it.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// RegisterDump is the JSON form of a register file.
type RegisterDump struct {
	AF    uint16 `json:"af"`
	BC    uint16 `json:"bc"`
	DE    uint16 `json:"de"`
	HL    uint16 `json:"hl"`
	AF2   uint16 `json:"af_"`
	BC2   uint16 `json:"bc_"`
	DE2   uint16 `json:"de_"`
	HL2   uint16 `json:"hl_"`
	SP    uint16 `json:"sp"`
	PC    uint16 `json:"pc"`
	I     uint8  `json:"i"`
	R     uint8  `json:"r"`
	IFF1  bool   `json:"iff1"`
	IFF2  bool   `json:"iff2"`
	IM    uint8  `json:"im"`
	Flags string `json:"flags"`
}

// Dump converts a register file to its JSON form.
func Dump(r cpu.Registers) RegisterDump {
	return RegisterDump{
		AF: uint16(r.Main.AF), BC: uint16(r.Main.BC), DE: uint16(r.Main.DE), HL: uint16(r.Main.HL),
		AF2: uint16(r.Shadow.AF), BC2: uint16(r.Shadow.BC), DE2: uint16(r.Shadow.DE), HL2: uint16(r.Shadow.HL),
		SP: uint16(r.SP), PC: r.PC,
		I: r.I, R: r.R,
		IFF1: r.IFF1, IFF2: r.IFF2, IM: r.IM,
		Flags: FlagString(r.Main.F()),
	}
}

// WriteJSON writes the register dump of r as indented JSON.
func WriteJSON(w io.Writer, r cpu.Registers) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Dump(r))
}

// FlagString renders F from bit 7 down, with '.' for a clear flag and
// '-' for the two unmodelled bits: "SZ-H-PNC" has every flag set.
func FlagString(f uint8) string {
	const names = "SZ-H-PNC"
	b := []byte(names)
	for i := range b {
		if b[i] == '-' {
			continue
		}
		if f&(0x80>>i) == 0 {
			b[i] = '.'
		}
	}
	return string(b)
}
