package cpu

// MemorySize is the size of the flat Z80 address space.
const MemorySize = 0x10000

// Memory is the 64KB code and data store. Addresses are 16-bit, so every
// access wraps modulo MemorySize and nothing can fault.
type Memory [MemorySize]uint8

// Read returns the byte at addr.
func (m *Memory) Read(addr uint16) uint8 {
	return m[addr]
}

// Write stores v at addr.
func (m *Memory) Write(addr uint16, v uint8) {
	m[addr] = v
}

// ReadWord returns the little-endian word at addr.
func (m *Memory) ReadWord(addr uint16) uint16 {
	return uint16(m[addr]) | uint16(m[addr+1])<<8
}

// WriteWord stores v little-endian at addr.
func (m *Memory) WriteWord(addr uint16, v uint16) {
	m[addr] = uint8(v)
	m[addr+1] = uint8(v >> 8)
}

// Clear zeroes the whole address space.
func (m *Memory) Clear() {
	*m = Memory{}
}

// Load zeroes memory and copies image in at address 0.
// Bytes beyond MemorySize are ignored.
func (m *Memory) Load(image []byte) {
	m.Clear()
	copy(m[:], image)
}

// Cell is one 8-bit storage location: a register half or a memory byte.
type Cell interface {
	Load() uint8
	Store(v uint8)
}

// HighCell addresses the high byte of a register pair.
type HighCell struct{ P *Pair }

func (c HighCell) Load() uint8    { return c.P.Hi() }
func (c HighCell) Store(v uint8) { c.P.SetHi(v) }

// LowCell addresses the low byte of a register pair.
type LowCell struct{ P *Pair }

func (c LowCell) Load() uint8    { return c.P.Lo() }
func (c LowCell) Store(v uint8) { c.P.SetLo(v) }

// MemCell addresses one memory byte.
type MemCell struct {
	Mem  *Memory
	Addr uint16
}

func (c MemCell) Load() uint8    { return c.Mem[c.Addr] }
func (c MemCell) Store(v uint8) { c.Mem[c.Addr] = v }
