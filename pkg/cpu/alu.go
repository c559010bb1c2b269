package cpu

// ALUOp computes a new accumulator and flag byte from A, an operand and the
// incoming flags. Only the carry bit of f is read, by ADC and SBC.
type ALUOp func(a, v, f uint8) (uint8, uint8)

// ALU is indexed by the y field of ALU opcodes:
// ADD, ADC, SUB, SBC, AND, XOR, OR, CP.
var ALU = [8]ALUOp{Add, Adc, Sub, Sbc, And, Xor, Or, Cp}

// Add implements ADD A, v.
func Add(a, v, f uint8) (uint8, uint8) {
	return add8(a, v, 0)
}

// Adc implements ADC A, v.
func Adc(a, v, f uint8) (uint8, uint8) {
	return add8(a, v, f&FlagC)
}

// Sub implements SUB v.
func Sub(a, v, f uint8) (uint8, uint8) {
	return sub8(a, v, 0)
}

// Sbc implements SBC A, v.
func Sbc(a, v, f uint8) (uint8, uint8) {
	return sub8(a, v, f&FlagC)
}

// Cp sets flags as SUB v would but leaves A unchanged.
func Cp(a, v, f uint8) (uint8, uint8) {
	_, flags := sub8(a, v, 0)
	return a, flags
}

// And implements AND v. H is always set.
func And(a, v, f uint8) (uint8, uint8) {
	res := a & v
	return res, FlagH | SzpTable[res]
}

// Xor implements XOR v.
func Xor(a, v, f uint8) (uint8, uint8) {
	res := a ^ v
	return res, SzpTable[res]
}

// Or implements OR v.
func Or(a, v, f uint8) (uint8, uint8) {
	res := a | v
	return res, SzpTable[res]
}

// add8 widens to 16 bits so the carry out of bit 7 survives.
func add8(a, v, carry uint8) (uint8, uint8) {
	sum := uint16(a) + uint16(v) + uint16(carry)
	res := uint8(sum)
	return res, SzTable[res] |
		bsel((a&0x0F)+(v&0x0F)+carry > 0x0F, FlagH, 0) |
		bsel(^(a^v)&(a^res)&0x80 != 0, FlagPV, 0) |
		bsel(sum > 0xFF, FlagC, 0)
}

func sub8(a, v, carry uint8) (uint8, uint8) {
	diff := int(a) - int(v) - int(carry)
	res := uint8(diff)
	return res, SzTable[res] | FlagN |
		bsel(int(a&0x0F)-int(v&0x0F)-int(carry) < 0, FlagH, 0) |
		bsel((a^v)&(a^res)&0x80 != 0, FlagPV, 0) |
		bsel(diff < 0, FlagC, 0)
}

// Inc8 implements INC r. Carry is preserved.
func Inc8(v, f uint8) (uint8, uint8) {
	v++
	return v, (f & FlagC) |
		bsel(v == 0x80, FlagPV, 0) |
		bsel(v&0x0F != 0, 0, FlagH) |
		SzTable[v]
}

// Dec8 implements DEC r. Carry is preserved.
func Dec8(v, f uint8) (uint8, uint8) {
	flags := (f & FlagC) | bsel(v&0x0F != 0, 0, FlagH) | FlagN
	v--
	return v, flags | bsel(v == 0x7F, FlagPV, 0) | SzTable[v]
}

// Neg implements NEG: A = 0 - A.
func Neg(a, f uint8) (uint8, uint8) {
	return sub8(0, a, 0)
}

// Daa adjusts A for BCD after an addition or subtraction.
func Daa(a, f uint8) (uint8, uint8) {
	var add uint8
	carry := f & FlagC
	if f&FlagH != 0 || a&0x0F > 9 {
		add = 6
	}
	if carry != 0 || a > 0x99 {
		add |= 0x60
	}
	if a > 0x99 {
		carry = FlagC
	}
	var res, flags uint8
	if f&FlagN != 0 {
		res, flags = sub8(a, add, 0)
	} else {
		res, flags = add8(a, add, 0)
	}
	return res, flags&^(FlagC|FlagPV) | carry | ParityTable[res]
}

// Cpl implements CPL: A = ^A, sets H and N.
func Cpl(a, f uint8) (uint8, uint8) {
	return ^a, f&(FlagC|FlagPV|FlagZ|FlagS) | FlagN | FlagH
}

// Scf sets the carry flag.
func Scf(f uint8) uint8 {
	return f&(FlagPV|FlagZ|FlagS) | FlagC
}

// Ccf complements the carry flag. H receives the old carry.
func Ccf(f uint8) uint8 {
	return f&(FlagPV|FlagZ|FlagS) | bsel(f&FlagC != 0, FlagH, FlagC)
}

// Rlca rotates A left; bit 7 goes to carry and bit 0.
func Rlca(a, f uint8) (uint8, uint8) {
	a = a<<1 | a>>7
	return a, f&(FlagPV|FlagZ|FlagS) | a&FlagC
}

// Rrca rotates A right; bit 0 goes to carry and bit 7.
func Rrca(a, f uint8) (uint8, uint8) {
	c := a & FlagC
	return a>>1 | a<<7, f&(FlagPV|FlagZ|FlagS) | c
}

// Rla rotates A left through carry.
func Rla(a, f uint8) (uint8, uint8) {
	return a<<1 | f&FlagC, f&(FlagPV|FlagZ|FlagS) | a>>7
}

// Rra rotates A right through carry.
func Rra(a, f uint8) (uint8, uint8) {
	return a>>1 | (f&FlagC)<<7, f&(FlagPV|FlagZ|FlagS) | a&FlagC
}

// ParityFlags sets S, Z and PV from v, clears H and N, and keeps carry.
// Used by IN r,(C), RRD and RLD.
func ParityFlags(v, f uint8) uint8 {
	return f&FlagC | SzpTable[v]
}

// AddHL implements ADD HL, rr: H from bit 11, C from bit 15, N cleared.
// S, Z and PV are preserved.
func AddHL(hl, v uint16, f uint8) (uint16, uint8) {
	sum := uint32(hl) + uint32(v)
	return uint16(sum), f&(FlagS|FlagZ|FlagPV) |
		bsel((hl&0x0FFF)+(v&0x0FFF) > 0x0FFF, FlagH, 0) |
		bsel(sum > 0xFFFF, FlagC, 0)
}

// AdcHL implements ADC HL, rr with full flag computation.
func AdcHL(hl, v uint16, f uint8) (uint16, uint8) {
	carry := uint32(f & FlagC)
	sum := uint32(hl) + uint32(v) + carry
	res := uint16(sum)
	return res, bsel(res&0x8000 != 0, FlagS, 0) |
		bsel(res == 0, FlagZ, 0) |
		bsel(uint32(hl&0x0FFF)+uint32(v&0x0FFF)+carry > 0x0FFF, FlagH, 0) |
		bsel(^(hl^v)&(hl^res)&0x8000 != 0, FlagPV, 0) |
		bsel(sum > 0xFFFF, FlagC, 0)
}

// SbcHL implements SBC HL, rr with full flag computation.
func SbcHL(hl, v uint16, f uint8) (uint16, uint8) {
	carry := int(f & FlagC)
	diff := int(hl) - int(v) - carry
	res := uint16(diff)
	return res, FlagN |
		bsel(res&0x8000 != 0, FlagS, 0) |
		bsel(res == 0, FlagZ, 0) |
		bsel(int(hl&0x0FFF)-int(v&0x0FFF)-carry < 0, FlagH, 0) |
		bsel((hl^v)&(hl^res)&0x8000 != 0, FlagPV, 0) |
		bsel(diff < 0, FlagC, 0)
}
