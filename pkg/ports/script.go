package ports

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
)

// Binder is anything that ports can be attached to.
type Binder interface {
	BindPort(port uint16, h cpu.PortHandler)
}

// Script implements port devices in Lua.
//
// The script declares the ports it serves in a global table and may
// define the callbacks
//
//	ports = {0x10, 0x11}
//	function read(port) return 42 end
//	function write(port, value) end
//
// A missing callback reads as 0 and ignores writes. A failing callback,
// or a read returning anything but an integer in 0-255, is logged and
// reads as 0; the first such error is kept and reported by Err.
type Script struct {
	mu    sync.Mutex
	L     *lua.LState
	ports []uint16
	err   error
	log   *slog.Logger
}

// LoadScript runs the Lua file at path and collects its port list.
func LoadScript(path string, log *slog.Logger) (*Script, error) {
	return newScript(log, func(L *lua.LState) error { return L.DoFile(path) })
}

// NewScript is LoadScript for in-memory source.
func NewScript(src string, log *slog.Logger) (*Script, error) {
	return newScript(log, func(L *lua.LState) error { return L.DoString(src) })
}

func newScript(log *slog.Logger, load func(*lua.LState) error) (*Script, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	L := lua.NewState()
	if err := load(L); err != nil {
		L.Close()
		return nil, fmt.Errorf("load port script: %w", err)
	}

	s := &Script{L: L, log: log}
	tbl, ok := L.GetGlobal("ports").(*lua.LTable)
	if !ok {
		L.Close()
		return nil, errors.New("port script: global 'ports' must be a table")
	}
	var bad lua.LValue
	tbl.ForEach(func(_, v lua.LValue) {
		n, ok := v.(lua.LNumber)
		if !ok || !isUint(n, 0xFFFF) {
			bad = v
			return
		}
		s.ports = append(s.ports, uint16(n))
	})
	if bad != nil {
		L.Close()
		return nil, fmt.Errorf("port script: invalid port %s", bad.String())
	}
	return s, nil
}

// Ports returns the port numbers the script serves.
func (s *Script) Ports() []uint16 { return s.ports }

// Bind attaches the script to every port it declared.
func (s *Script) Bind(b Binder) {
	for _, p := range s.ports {
		b.BindPort(p, s.Handler(p))
	}
}

// Handler returns the device for one port.
func (s *Script) Handler(port uint16) cpu.PortHandler {
	return cpu.PortFunc(func(dir cpu.Direction, data []byte) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if dir == cpu.Write {
			s.call("write", 0, lua.LNumber(port), lua.LNumber(data[0]))
			return
		}
		data[0] = 0
		v := s.call("read", 1, lua.LNumber(port))
		if v == lua.LNil {
			return
		}
		if n, ok := v.(lua.LNumber); ok && isUint(n, 0xFF) {
			data[0] = uint8(n)
			return
		}
		err := fmt.Errorf("port script: read(%d) returned %s, want an integer in 0-255", port, v.String())
		if s.err == nil {
			s.err = err
		}
		s.log.Warn("Port script returned a bad value", slog.Int("port", int(port)), slog.String("value", v.String()))
	})
}

// isUint reports whether n is a whole number in 0..limit.
func isUint(n lua.LNumber, limit float64) bool {
	f := float64(n)
	return f >= 0 && f <= limit && f == math.Trunc(f)
}

func (s *Script) call(name string, nret int, args ...lua.LValue) lua.LValue {
	fn := s.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return lua.LNil
	}
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		if s.err == nil {
			s.err = err
		}
		s.log.Warn("Port script failed", slog.String("callback", name), slog.Any("error", err))
		return lua.LNil
	}
	if nret == 0 {
		return lua.LNil
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret
}

// Err returns the first callback error.
func (s *Script) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}
