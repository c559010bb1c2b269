package inst

import (
	"strconv"
	"strings"
)

// Operand names, indexed by opcode fields.
var (
	// R is indexed by y or z. Slot 6 is the memory byte at HL.
	R = [8]string{"B", "C", "D", "E", "H", "L", "(HL)", "A"}
	// RP is indexed by p where slot 3 is SP.
	RP = [4]string{"BC", "DE", "HL", "SP"}
	// RP2 is indexed by p for PUSH/POP where slot 3 is AF.
	RP2 = [4]string{"BC", "DE", "HL", "AF"}
	// CC holds condition names, indexed by y.
	CC = [8]string{"NZ", "Z", "NC", "C", "PO", "PE", "P", "M"}
)

// ALU mnemonics, indexed by y. The operand follows after a space.
var ALU = [8]string{"ADD A,", "ADC A,", "SUB", "SBC A,", "AND", "XOR", "OR", "CP"}

// AccOps names the x=0, z=7 accumulator and flag operations, indexed by y.
var AccOps = [8]string{"RLCA", "RRCA", "RLA", "RRA", "DAA", "CPL", "SCF", "CCF"}

// Block names the ED block-transfer operations, indexed by [y-4][z].
var Block = [4][4]string{
	{"LDI", "CPI", "INI", "OUTI"},
	{"LDD", "CPD", "IND", "OUTD"},
	{"LDIR", "CPIR", "INIR", "OTIR"},
	{"LDDR", "CPDR", "INDR", "OTDR"},
}

// IM maps y of ED x=1 z=6 to an interrupt mode. The undocumented
// "IM 0/1" encodings select mode 0.
var IM = [8]uint8{0, 0, 1, 2, 0, 0, 1, 2}

// Format builds one trace line: the mnemonic, a space, and the operands
// separated by ", ".
func Format(mnemonic string, operands ...string) string {
	if len(operands) == 0 {
		return mnemonic
	}
	return mnemonic + " " + strings.Join(operands, ", ")
}

// Dec renders an operand value in decimal.
func Dec[T ~uint8 | ~uint16 | ~int](v T) string {
	return strconv.Itoa(int(v))
}

// Ind wraps an operand in parentheses for indirect addressing.
func Ind(s string) string {
	return "(" + s + ")"
}
