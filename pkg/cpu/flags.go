package cpu

// Z80 flag bit positions in the F register.
// Bits 3 and 5 are not modelled and always read as zero.
const (
	FlagC  uint8 = 0x01 // Carry
	FlagN  uint8 = 0x02 // Subtract
	FlagPV uint8 = 0x04 // Parity/Overflow
	FlagH  uint8 = 0x10 // Half-carry
	FlagZ  uint8 = 0x40 // Zero
	FlagS  uint8 = 0x80 // Sign
)

// FlagMask covers every modelled flag bit.
const FlagMask = FlagC | FlagN | FlagPV | FlagH | FlagZ | FlagS

// Precomputed flag tables.
var (
	// SzTable: S and Z flags for each byte value
	SzTable [256]uint8
	// SzpTable: SzTable with the parity flag included
	SzpTable [256]uint8
	// ParityTable: PV set for even parity
	ParityTable [256]uint8
)

func init() {
	for i := 0; i < 256; i++ {
		SzTable[i] = uint8(i) & FlagS

		j := uint8(i)
		parity := uint8(0)
		for k := 0; k < 8; k++ {
			parity ^= j & 1
			j >>= 1
		}
		if parity == 0 {
			ParityTable[i] = FlagPV
		}
		SzpTable[i] = SzTable[i] | ParityTable[i]
	}
	SzTable[0] |= FlagZ
	SzpTable[0] |= FlagZ
}

// bsel returns a if cond is true, else b.
func bsel(cond bool, a, b uint8) uint8 {
	if cond {
		return a
	}
	return b
}
