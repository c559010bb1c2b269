package emulator

import "github.com/Cloaked9000/frZ80/pkg/cpu"

// Block transfer, search and I/O operations (ED A0-BB).
// The repeating forms run to completion inside one instruction and
// always execute at least once, so BC=0 (or B=0) covers 65536 (256) steps.

func (e *Emulator) transfer(step uint16) {
	m := &e.reg.Main
	e.mem[uint16(m.DE)] = e.mem[uint16(m.HL)]
	m.HL += cpu.Pair(step)
	m.DE += cpu.Pair(step)
	m.BC--
}

func (e *Emulator) transferFlags() {
	m := &e.reg.Main
	f := m.F() &^ (cpu.FlagH | cpu.FlagN | cpu.FlagPV)
	if m.BC != 0 {
		f |= cpu.FlagPV
	}
	m.SetF(f)
}

func (e *Emulator) ldi() { e.transfer(1); e.transferFlags() }
func (e *Emulator) ldd() { e.transfer(0xFFFF); e.transferFlags() }

func (e *Emulator) ldir() {
	for {
		e.transfer(1)
		if e.reg.Main.BC == 0 {
			break
		}
	}
	e.transferFlags()
}

func (e *Emulator) lddr() {
	for {
		e.transfer(0xFFFF)
		if e.reg.Main.BC == 0 {
			break
		}
	}
	e.transferFlags()
}

// compare runs one CPI/CPD step and reports whether A matched (HL).
// S, Z and H come from A-(HL); C is preserved; PV is set while BC != 0.
func (e *Emulator) compare(step uint16) bool {
	m := &e.reg.Main
	v := e.mem[uint16(m.HL)]
	m.HL += cpu.Pair(step)
	m.BC--
	_, f := cpu.Cp(m.A(), v, m.F())
	f = f&^(cpu.FlagC|cpu.FlagPV) | m.F()&cpu.FlagC
	if m.BC != 0 {
		f |= cpu.FlagPV
	}
	m.SetF(f)
	return f&cpu.FlagZ != 0
}

func (e *Emulator) cpi() { e.compare(1) }
func (e *Emulator) cpd() { e.compare(0xFFFF) }

func (e *Emulator) cpir() {
	for !e.compare(1) && e.reg.Main.BC != 0 {
	}
}

func (e *Emulator) cpdr() {
	for !e.compare(0xFFFF) && e.reg.Main.BC != 0 {
	}
}

// Block I/O uses BC as the port, decrements B and sets Z when B reaches
// zero. N is set; the other flags are preserved.

func (e *Emulator) ioFlags() {
	m := &e.reg.Main
	f := m.F()&^cpu.FlagZ | cpu.FlagN
	if m.B() == 0 {
		f |= cpu.FlagZ
	}
	m.SetF(f)
}

func (e *Emulator) input(step uint16) {
	m := &e.reg.Main
	e.mem[uint16(m.HL)] = e.In(uint16(m.BC))
	m.SetB(m.B() - 1)
	m.HL += cpu.Pair(step)
	e.ioFlags()
}

func (e *Emulator) output(step uint16) {
	m := &e.reg.Main
	v := e.mem[uint16(m.HL)]
	m.SetB(m.B() - 1)
	e.Out(uint16(m.BC), v)
	m.HL += cpu.Pair(step)
	e.ioFlags()
}

func (e *Emulator) ini()  { e.input(1) }
func (e *Emulator) ind()  { e.input(0xFFFF) }
func (e *Emulator) outi() { e.output(1) }
func (e *Emulator) outd() { e.output(0xFFFF) }

func (e *Emulator) inir() {
	for e.input(1); e.reg.Main.B() != 0; e.input(1) {
	}
}

func (e *Emulator) indr() {
	for e.input(0xFFFF); e.reg.Main.B() != 0; e.input(0xFFFF) {
	}
}

func (e *Emulator) otir() {
	for e.output(1); e.reg.Main.B() != 0; e.output(1) {
	}
}

func (e *Emulator) otdr() {
	for e.output(0xFFFF); e.reg.Main.B() != 0; e.output(0xFFFF) {
	}
}
