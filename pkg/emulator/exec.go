package emulator

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
	"github.com/Cloaked9000/frZ80/pkg/inst"
)

// Emulate loads program at address 0 (zeroing the rest of memory) and
// runs it from PC=0. Registers other than PC keep their current values.
//
// The run ends when PC reaches len(program) or a HALT executes. One line
// per executed instruction is written to trace, which may be nil.
// An undefined ED opcode stops the run with a *DecodeError.
func (e *Emulator) Emulate(program []byte, trace io.Writer) error {
	if len(program) > cpu.MemorySize {
		return fmt.Errorf("%w: %d bytes", ErrProgramTooLarge, len(program))
	}
	if trace == nil {
		trace = io.Discard
	}

	e.mem.Load(program)
	e.reg.PC = 0
	e.trace = trace
	e.werr = nil
	e.end = len(program)
	e.halted = false
	e.count = 0

	e.log.Debug("Emulation started", slog.Int("size", e.end))
	for !e.halted && int(e.reg.PC) < e.end {
		jumped, err := e.step()
		if err != nil {
			e.log.Error("Emulation stopped", slog.Any("error", err))
			return err
		}
		if e.werr != nil {
			return fmt.Errorf("write trace: %w", e.werr)
		}
		e.count++
		if !jumped {
			e.reg.PC++
		}
	}
	e.log.Debug("Emulation finished",
		slog.Uint64("instructions", e.count),
		slog.Bool("halted", e.halted),
		slog.Int("pc", int(e.reg.PC)))
	return nil
}

// emit writes one trace line. The first write error is kept and ends
// the run after the current instruction.
func (e *Emulator) emit(mnemonic string, operands ...string) {
	if e.werr != nil {
		return
	}
	_, e.werr = io.WriteString(e.trace, inst.Format(mnemonic, operands...)+"\n")
}

// fetch advances PC to the next operand byte and returns it.
func (e *Emulator) fetch() uint8 {
	e.reg.PC++
	return e.mem[e.reg.PC]
}

// fetchWord reads a little-endian operand. PC is left on its high byte.
func (e *Emulator) fetchWord() uint16 {
	lo := e.fetch()
	hi := e.fetch()
	return uint16(hi)<<8 | uint16(lo)
}

// jump sets PC to addr. Callers return true so the loop skips its own
// increment.
func (e *Emulator) jump(addr uint16) bool {
	e.reg.PC = addr
	return true
}

// relative reads a displacement and returns the branch target, measured
// from the byte after the displacement.
func (e *Emulator) relative() uint16 {
	d := int8(e.fetch())
	return e.reg.PC + 1 + uint16(d)
}

// cond evaluates condition code y.
func (e *Emulator) cond(y uint8) bool {
	f := e.reg.Main.F()
	switch y {
	case 0:
		return f&cpu.FlagZ == 0
	case 1:
		return f&cpu.FlagZ != 0
	case 2:
		return f&cpu.FlagC == 0
	case 3:
		return f&cpu.FlagC != 0
	case 4:
		return f&cpu.FlagPV == 0
	case 5:
		return f&cpu.FlagPV != 0
	case 6:
		return f&cpu.FlagS == 0
	case 7:
		return f&cpu.FlagS != 0
	}
	panic(fmt.Sprintf("unreachable: condition %d", y))
}

// step executes the instruction at PC. It returns true if the
// instruction set PC itself.
func (e *Emulator) step() (bool, error) {
	prefix := inst.ToPrefix(e.mem[e.reg.PC])
	if prefix != inst.None {
		e.reg.IncR()
		e.reg.PC++
	}
	op := e.mem[e.reg.PC]
	e.reg.IncR()
	f := inst.Decode(op)

	switch prefix {
	case inst.None:
		return e.execMain(op, f), nil
	case inst.ED:
		return e.execED(op, f)
	}
	// CB, DD and FD maps are recognised but not executed.
	e.log.Debug("Skipped prefixed opcode",
		slog.String("prefix", prefix.String()), slog.Int("opcode", int(op)))
	return false, nil
}

func (e *Emulator) execMain(op uint8, f inst.Fields) bool {
	m := &e.reg.Main
	switch f.X {
	case 0:
		return e.execX0(f)
	case 1:
		if f.Z == 6 && f.Y == 6 {
			e.emit("HALT")
			e.halted = true
			e.reg.PC = uint16(e.end)
			return true
		}
		e.GetR(f.Y).Store(e.GetR(f.Z).Load())
		e.emit("LD", inst.R[f.Y], inst.R[f.Z])
		return false
	case 2:
		a, fl := cpu.ALU[f.Y](m.A(), e.GetR(f.Z).Load(), m.F())
		m.SetA(a)
		m.SetF(fl)
		e.emit(inst.ALU[f.Y], inst.R[f.Z])
		return false
	case 3:
		return e.execX3(op, f)
	}
	panic(fmt.Sprintf("unreachable: x=%d", f.X))
}

func (e *Emulator) execX0(f inst.Fields) bool {
	m := &e.reg.Main
	switch f.Z {
	case 0:
		switch f.Y {
		case 0:
			e.emit("NOP")
		case 1:
			e.reg.ExAF()
			e.emit("EX", "AF", "AF'")
		case 2:
			dst := e.relative()
			e.emit("DJNZ", inst.Dec(dst))
			m.SetB(m.B() - 1)
			if m.B() != 0 {
				return e.jump(dst)
			}
		case 3:
			dst := e.relative()
			e.emit("JR", inst.Dec(dst))
			return e.jump(dst)
		default:
			dst := e.relative()
			e.emit("JR", inst.CC[f.Y-4], inst.Dec(dst))
			if e.cond(f.Y - 4) {
				return e.jump(dst)
			}
		}
		return false

	case 1:
		rp := e.GetRP(f.P)
		if f.Q == 0 {
			nn := e.fetchWord()
			*rp = cpu.Pair(nn)
			e.emit("LD", inst.RP[f.P], inst.Dec(nn))
			return false
		}
		hl, fl := cpu.AddHL(uint16(m.HL), uint16(*rp), m.F())
		m.HL = cpu.Pair(hl)
		m.SetF(fl)
		e.emit("ADD", "HL", inst.RP[f.P])
		return false

	case 2:
		e.execIndirect(f)
		return false

	case 3:
		rp := e.GetRP(f.P)
		if f.Q == 0 {
			*rp++
			e.emit("INC", inst.RP[f.P])
		} else {
			*rp--
			e.emit("DEC", inst.RP[f.P])
		}
		return false

	case 4:
		c := e.GetR(f.Y)
		v, fl := cpu.Inc8(c.Load(), m.F())
		c.Store(v)
		m.SetF(fl)
		e.emit("INC", inst.R[f.Y])
		return false

	case 5:
		c := e.GetR(f.Y)
		v, fl := cpu.Dec8(c.Load(), m.F())
		c.Store(v)
		m.SetF(fl)
		e.emit("DEC", inst.R[f.Y])
		return false

	case 6:
		n := e.fetch()
		e.GetR(f.Y).Store(n)
		e.emit("LD", inst.R[f.Y], inst.Dec(n))
		return false

	case 7:
		a, fl := m.A(), m.F()
		switch f.Y {
		case 0:
			a, fl = cpu.Rlca(a, fl)
		case 1:
			a, fl = cpu.Rrca(a, fl)
		case 2:
			a, fl = cpu.Rla(a, fl)
		case 3:
			a, fl = cpu.Rra(a, fl)
		case 4:
			a, fl = cpu.Daa(a, fl)
		case 5:
			a, fl = cpu.Cpl(a, fl)
		case 6:
			fl = cpu.Scf(fl)
		case 7:
			fl = cpu.Ccf(fl)
		}
		m.SetA(a)
		m.SetF(fl)
		e.emit(inst.AccOps[f.Y])
		return false
	}
	panic(fmt.Sprintf("unreachable: x=0 z=%d", f.Z))
}

// execIndirect handles the x=0, z=2 loads through BC, DE or an address.
func (e *Emulator) execIndirect(f inst.Fields) {
	m := &e.reg.Main
	switch f.Q<<2 | f.P {
	case 0:
		e.mem[uint16(m.BC)] = m.A()
		e.emit("LD", "(BC)", "A")
	case 1:
		e.mem[uint16(m.DE)] = m.A()
		e.emit("LD", "(DE)", "A")
	case 2:
		nn := e.fetchWord()
		e.mem.WriteWord(nn, uint16(m.HL))
		e.emit("LD", inst.Ind(inst.Dec(nn)), "HL")
	case 3:
		nn := e.fetchWord()
		e.mem[nn] = m.A()
		e.emit("LD", inst.Ind(inst.Dec(nn)), "A")
	case 4:
		m.SetA(e.mem[uint16(m.BC)])
		e.emit("LD", "A", "(BC)")
	case 5:
		m.SetA(e.mem[uint16(m.DE)])
		e.emit("LD", "A", "(DE)")
	case 6:
		nn := e.fetchWord()
		m.HL = cpu.Pair(e.mem.ReadWord(nn))
		e.emit("LD", "HL", inst.Ind(inst.Dec(nn)))
	case 7:
		nn := e.fetchWord()
		m.SetA(e.mem[nn])
		e.emit("LD", "A", inst.Ind(inst.Dec(nn)))
	default:
		panic(fmt.Sprintf("unreachable: x=0 z=2 %s", f))
	}
}

func (e *Emulator) execX3(op uint8, f inst.Fields) bool {
	m := &e.reg.Main
	switch f.Z {
	case 0:
		e.emit("RET", inst.CC[f.Y])
		if e.cond(f.Y) {
			return e.jump(e.Pop())
		}
		return false

	case 1:
		if f.Q == 0 {
			v := e.Pop()
			if f.P == 3 {
				m.SetAF(v)
			} else {
				*e.GetRP2(f.P) = cpu.Pair(v)
			}
			e.emit("POP", inst.RP2[f.P])
			return false
		}
		switch f.P {
		case 0:
			e.emit("RET")
			return e.jump(e.Pop())
		case 1:
			e.reg.Exx()
			e.emit("EXX")
		case 2:
			e.emit("JP", "(HL)")
			return e.jump(uint16(m.HL))
		case 3:
			e.reg.SP = m.HL
			e.emit("LD", "SP", "HL")
		}
		return false

	case 2:
		nn := e.fetchWord()
		e.emit("JP", inst.CC[f.Y], inst.Dec(nn))
		if e.cond(f.Y) {
			return e.jump(nn)
		}
		return false

	case 3:
		switch f.Y {
		case 0:
			nn := e.fetchWord()
			e.emit("JP", inst.Dec(nn))
			return e.jump(nn)
		case 2:
			n := e.fetch()
			e.Out(uint16(n), m.A())
			e.emit("OUT", inst.Ind(inst.Dec(n)), "A")
		case 3:
			n := e.fetch()
			m.SetA(e.In(uint16(n)))
			e.emit("IN", "A", inst.Ind(inst.Dec(n)))
		case 4:
			sp := uint16(e.reg.SP)
			v := e.mem.ReadWord(sp)
			e.mem.WriteWord(sp, uint16(m.HL))
			m.HL = cpu.Pair(v)
			e.emit("EX", "(SP)", "HL")
		case 5:
			m.DE, m.HL = m.HL, m.DE
			e.emit("EX", "DE", "HL")
		case 6:
			e.reg.IFF1, e.reg.IFF2 = false, false
			e.emit("DI")
		case 7:
			e.reg.IFF1, e.reg.IFF2 = true, true
			e.emit("EI")
		default:
			// 0xCB is always consumed as a prefix.
			panic(fmt.Sprintf("unreachable: opcode %02X", op))
		}
		return false

	case 4:
		nn := e.fetchWord()
		e.emit("CALL", inst.CC[f.Y], inst.Dec(nn))
		if e.cond(f.Y) {
			e.Push(e.reg.PC + 1)
			return e.jump(nn)
		}
		return false

	case 5:
		if f.Q == 0 {
			e.Push(uint16(*e.GetRP2(f.P)))
			e.emit("PUSH", inst.RP2[f.P])
			return false
		}
		if f.P != 0 {
			// 0xDD, 0xED and 0xFD are always consumed as prefixes.
			panic(fmt.Sprintf("unreachable: opcode %02X", op))
		}
		nn := e.fetchWord()
		e.emit("CALL", inst.Dec(nn))
		e.Push(e.reg.PC + 1)
		return e.jump(nn)

	case 6:
		n := e.fetch()
		a, fl := cpu.ALU[f.Y](m.A(), n, m.F())
		m.SetA(a)
		m.SetF(fl)
		e.emit(inst.ALU[f.Y], inst.Dec(n))
		return false

	case 7:
		e.emit("RST", inst.Dec(f.Y*8))
		e.Push(e.reg.PC + 1)
		return e.jump(uint16(f.Y) * 8)
	}
	panic(fmt.Sprintf("unreachable: x=3 z=%d", f.Z))
}

func (e *Emulator) execED(op uint8, f inst.Fields) (bool, error) {
	switch {
	case f.X == 1:
		return e.execED1(f), nil
	case f.X == 2 && f.Y >= 4 && f.Z <= 3:
		e.block[f.Y-4][f.Z](e)
		e.emit(inst.Block[f.Y-4][f.Z])
		return false, nil
	}
	return false, &DecodeError{PC: e.reg.PC, Prefix: inst.ED, Opcode: op, Fields: f}
}

func (e *Emulator) execED1(f inst.Fields) bool {
	m := &e.reg.Main
	switch f.Z {
	case 0:
		v := e.In(uint16(m.BC))
		m.SetF(cpu.ParityFlags(v, m.F()))
		if f.Y == 6 {
			e.emit("IN", "(C)")
			return false
		}
		e.GetR(f.Y).Store(v)
		e.emit("IN", inst.R[f.Y], "(C)")

	case 1:
		if f.Y == 6 {
			e.Out(uint16(m.BC), 0)
			e.emit("OUT", "(C)", "0")
			return false
		}
		e.Out(uint16(m.BC), e.GetR(f.Y).Load())
		e.emit("OUT", "(C)", inst.R[f.Y])

	case 2:
		rp := uint16(*e.GetRP(f.P))
		var hl uint16
		var fl uint8
		if f.Q == 0 {
			hl, fl = cpu.SbcHL(uint16(m.HL), rp, m.F())
			e.emit("SBC", "HL", inst.RP[f.P])
		} else {
			hl, fl = cpu.AdcHL(uint16(m.HL), rp, m.F())
			e.emit("ADC", "HL", inst.RP[f.P])
		}
		m.HL = cpu.Pair(hl)
		m.SetF(fl)

	case 3:
		nn := e.fetchWord()
		rp := e.GetRP(f.P)
		if f.Q == 0 {
			e.mem.WriteWord(nn, uint16(*rp))
			e.emit("LD", inst.Ind(inst.Dec(nn)), inst.RP[f.P])
		} else {
			*rp = cpu.Pair(e.mem.ReadWord(nn))
			e.emit("LD", inst.RP[f.P], inst.Ind(inst.Dec(nn)))
		}

	case 4:
		a, fl := cpu.Neg(m.A(), m.F())
		m.SetA(a)
		m.SetF(fl)
		e.emit("NEG")

	case 5:
		e.reg.IFF1 = e.reg.IFF2
		if f.Y == 1 {
			e.emit("RETI")
		} else {
			e.emit("RETN")
		}
		return e.jump(e.Pop())

	case 6:
		e.reg.IM = inst.IM[f.Y]
		e.emit("IM", inst.Dec(e.reg.IM))

	case 7:
		e.execED1Z7(f)

	default:
		panic(fmt.Sprintf("unreachable: ED x=1 z=%d", f.Z))
	}
	return false
}

// execED1Z7 covers the I/R transfers and the nibble rotates.
func (e *Emulator) execED1Z7(f inst.Fields) {
	m := &e.reg.Main
	switch f.Y {
	case 0:
		e.reg.I = m.A()
		e.emit("LD", "I", "A")
	case 1:
		e.reg.R = m.A()
		e.emit("LD", "R", "A")
	case 2, 3:
		v, name := e.reg.I, "I"
		if f.Y == 3 {
			v, name = e.reg.R, "R"
		}
		m.SetA(v)
		fl := m.F()&cpu.FlagC | cpu.SzTable[v]
		if e.reg.IFF2 {
			fl |= cpu.FlagPV
		}
		m.SetF(fl)
		e.emit("LD", "A", name)
	case 4, 5:
		addr := uint16(m.HL)
		v, a := e.mem[addr], m.A()
		if f.Y == 4 {
			e.mem[addr] = v>>4 | a<<4
			m.SetA(a&0xF0 | v&0x0F)
			e.emit("RRD")
		} else {
			e.mem[addr] = v<<4 | a&0x0F
			m.SetA(a&0xF0 | v>>4)
			e.emit("RLD")
		}
		m.SetF(cpu.ParityFlags(m.A(), m.F()))
	default:
		e.emit("NOP")
	}
}
