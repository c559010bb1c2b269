package cpu

// Direction tells a port handler whether the CPU is reading or writing.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// PortHandler services IN and OUT instructions for one port.
// On Read the handler fills data; on Write it may only inspect it.
// The CPU always passes a one-byte buffer.
type PortHandler interface {
	Port(dir Direction, data []byte)
}

// PortFunc adapts an ordinary function to a PortHandler.
type PortFunc func(dir Direction, data []byte)

// Port calls f(dir, data).
func (f PortFunc) Port(dir Direction, data []byte) {
	f(dir, data)
}

// PortTable maps every 16-bit port number to its handler.
// Ports without a handler read as zero and discard writes.
type PortTable struct {
	handlers [0x10000]PortHandler
}

// Bind installs h on port, replacing any previous handler.
// A nil handler unbinds the port.
func (t *PortTable) Bind(port uint16, h PortHandler) {
	t.handlers[port] = h
}

// Handler returns the handler bound to port, or nil.
func (t *PortTable) Handler(port uint16) PortHandler {
	return t.handlers[port]
}

// Bound reports whether port has a handler.
func (t *PortTable) Bound(port uint16) bool {
	return t.handlers[port] != nil
}

// In reads one byte from port.
func (t *PortTable) In(port uint16) uint8 {
	h := t.handlers[port]
	if h == nil {
		return 0
	}
	buf := [1]byte{}
	h.Port(Read, buf[:])
	return buf[0]
}

// Out writes v to port.
func (t *PortTable) Out(port uint16, v uint8) {
	h := t.handlers[port]
	if h == nil {
		return
	}
	buf := [1]byte{v}
	h.Port(Write, buf[:])
}
