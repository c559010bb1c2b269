package cpu

// Pair is a 16-bit register cell whose high and low bytes are the
// 8-bit registers it aliases (B/C in BC, A/F in AF, ...).
// Both views share the same storage.
type Pair uint16

// Hi returns the high byte.
func (p Pair) Hi() uint8 { return uint8(p >> 8) }

// Lo returns the low byte.
func (p Pair) Lo() uint8 { return uint8(p) }

// SetHi replaces the high byte, leaving the low byte unchanged.
func (p *Pair) SetHi(v uint8) { *p = Pair(uint16(*p)&0x00FF | uint16(v)<<8) }

// SetLo replaces the low byte, leaving the high byte unchanged.
func (p *Pair) SetLo(v uint8) { *p = Pair(uint16(*p)&0xFF00 | uint16(v)) }

// Bank is one set of general purpose registers.
// The Z80 has two: the active bank and the shadow bank.
type Bank struct {
	BC, DE, HL, AF Pair
}

func (b Bank) B() uint8 { return b.BC.Hi() }
func (b Bank) C() uint8 { return b.BC.Lo() }
func (b Bank) D() uint8 { return b.DE.Hi() }
func (b Bank) E() uint8 { return b.DE.Lo() }
func (b Bank) H() uint8 { return b.HL.Hi() }
func (b Bank) L() uint8 { return b.HL.Lo() }
func (b Bank) A() uint8 { return b.AF.Hi() }
func (b Bank) F() uint8 { return b.AF.Lo() }

func (b *Bank) SetB(v uint8) { b.BC.SetHi(v) }
func (b *Bank) SetC(v uint8) { b.BC.SetLo(v) }
func (b *Bank) SetD(v uint8) { b.DE.SetHi(v) }
func (b *Bank) SetE(v uint8) { b.DE.SetLo(v) }
func (b *Bank) SetH(v uint8) { b.HL.SetHi(v) }
func (b *Bank) SetL(v uint8) { b.HL.SetLo(v) }
func (b *Bank) SetA(v uint8) { b.AF.SetHi(v) }

// SetF stores the flag byte. Unmodelled bits are dropped.
func (b *Bank) SetF(v uint8) { b.AF.SetLo(v & FlagMask) }

// SetAF stores A and F together, dropping unmodelled flag bits.
func (b *Bank) SetAF(v uint16) { b.AF = Pair(v & (0xFF00 | uint16(FlagMask))) }

// Flag reports whether any bit of mask is set in F.
func (b Bank) Flag(mask uint8) bool {
	return b.F()&mask != 0
}

// SetFlag sets or clears the bits of mask in F.
func (b *Bank) SetFlag(mask uint8, on bool) {
	if on {
		b.SetF(b.F() | mask)
	} else {
		b.SetF(b.F() &^ mask)
	}
}

// Registers is the complete register file.
// SP and PC are shared by both banks.
type Registers struct {
	Main   Bank
	Shadow Bank

	SP Pair
	PC uint16

	I, R       uint8
	IFF1, IFF2 bool
	IM         uint8
}

// ExAF swaps AF with AF'.
func (r *Registers) ExAF() {
	r.Main.AF, r.Shadow.AF = r.Shadow.AF, r.Main.AF
}

// Exx swaps BC, DE and HL with their shadow counterparts.
func (r *Registers) Exx() {
	r.Main.BC, r.Shadow.BC = r.Shadow.BC, r.Main.BC
	r.Main.DE, r.Shadow.DE = r.Shadow.DE, r.Main.DE
	r.Main.HL, r.Shadow.HL = r.Shadow.HL, r.Main.HL
}

// IncR advances the refresh counter. Bit 7 is preserved.
func (r *Registers) IncR() {
	r.R = r.R&0x80 | (r.R+1)&0x7F
}
