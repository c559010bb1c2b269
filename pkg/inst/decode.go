// Package inst decomposes Z80 opcode bytes and names their operands.
//
// Every opcode byte splits into the fields
//
//	x = bits 7-6, y = bits 5-3, z = bits 2-0, p = bits 5-4, q = bit 3
//
// x picks a coarse group and z, y, p, q select within it. The tables in
// names.go are indexed by these fields.
package inst

import "fmt"

// Prefix selects an alternate opcode map.
type Prefix uint8

const (
	None Prefix = iota
	CB
	DD
	ED
	FD
)

func (p Prefix) String() string {
	switch p {
	case CB:
		return "CB"
	case DD:
		return "DD"
	case ED:
		return "ED"
	case FD:
		return "FD"
	}
	return "none"
}

// ToPrefix returns the prefix a byte encodes, or None if it is an opcode.
func ToPrefix(b uint8) Prefix {
	switch b {
	case 0xCB:
		return CB
	case 0xDD:
		return DD
	case 0xED:
		return ED
	case 0xFD:
		return FD
	}
	return None
}

// Fields is the bitfield decomposition of one opcode byte.
type Fields struct {
	X, Y, Z, P, Q uint8
}

// Decode splits op into its x/y/z/p/q fields.
func Decode(op uint8) Fields {
	y := (op >> 3) & 0x07
	return Fields{
		X: op >> 6,
		Y: y,
		Z: op & 0x07,
		P: y >> 1,
		Q: y & 0x01,
	}
}

func (f Fields) String() string {
	return fmt.Sprintf("x=%d y=%d z=%d p=%d q=%d", f.X, f.Y, f.Z, f.P, f.Q)
}
