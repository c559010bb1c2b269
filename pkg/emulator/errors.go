package emulator

import (
	"errors"
	"fmt"

	"github.com/Cloaked9000/frZ80/pkg/inst"
)

var (
	// ErrUnimplemented is wrapped by every DecodeError.
	ErrUnimplemented = errors.New("unimplemented instruction")
	// ErrProgramTooLarge is returned when an image does not fit in memory.
	ErrProgramTooLarge = errors.New("program larger than address space")
)

// DecodeError reports an opcode with no defined behaviour.
// Emulation stops at the offending instruction.
type DecodeError struct {
	PC     uint16 // address of the opcode byte
	Prefix inst.Prefix
	Opcode uint8
	Fields inst.Fields
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s opcode %02X (%s) at PC=%d: %v",
		e.Prefix, e.Opcode, e.Fields, e.PC, ErrUnimplemented)
}

func (e *DecodeError) Unwrap() error { return ErrUnimplemented }
