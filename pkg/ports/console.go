// Package ports provides host devices for the emulator's I/O ports.
package ports

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
)

// Console is a character device. OUT writes one byte to the output
// stream; IN returns the next input byte, or 0 once input is exhausted.
// Output is buffered and flushed on newline, before every read and on Flush.
type Console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out *bufio.Writer
	err error
	log *slog.Logger
}

// NewConsole creates a console reading from in and writing to out.
// Either may be nil.
func NewConsole(in io.Reader, out io.Writer, log *slog.Logger) *Console {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Console{log: log}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	if out == nil {
		out = io.Discard
	}
	c.out = bufio.NewWriter(out)
	return c
}

// Port implements cpu.PortHandler.
func (c *Console) Port(dir cpu.Direction, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir == cpu.Write {
		c.write(data[0])
		if data[0] == '\n' {
			c.flush()
		}
		return
	}

	c.flush()
	data[0] = 0
	if c.in == nil {
		return
	}
	b, err := c.in.ReadByte()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			c.log.Warn("Console read failed", slog.Any("error", err))
		}
		return
	}
	data[0] = b
}

func (c *Console) write(b byte) {
	if c.err != nil {
		return
	}
	if err := c.out.WriteByte(b); err != nil {
		c.err = err
		c.log.Warn("Console write failed", slog.Any("error", err))
	}
}

func (c *Console) flush() {
	if c.err != nil {
		return
	}
	if err := c.out.Flush(); err != nil {
		c.err = err
		c.log.Warn("Console flush failed", slog.Any("error", err))
	}
}

// Flush writes any buffered output and returns the first output error.
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flush()
	return c.err
}

// RawInput puts f into raw mode if it is a terminal, so programs see
// keystrokes unbuffered and without echo. The returned function restores
// the previous mode; it is a no-op when f is not a terminal.
func RawInput(f *os.File) (restore func() error, err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() error { return nil }, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, old) }, nil
}
