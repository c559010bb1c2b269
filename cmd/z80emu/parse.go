package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// parsePort parses a 16-bit port number.
func parsePort(s string) (uint16, error) {
	v, err := parseImmediate(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("port %d out of range", v)
	}
	return uint16(v), nil
}

// parseRange parses "start:length" into a memory window.
func parseRange(s string) (start, n int, err error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("memory range %q: want start:length", s)
	}
	if start, err = parseImmediate(a); err != nil {
		return 0, 0, fmt.Errorf("memory range start: %w", err)
	}
	if n, err = parseImmediate(b); err != nil {
		return 0, 0, fmt.Errorf("memory range length: %w", err)
	}
	if start < 0 || start > 0xFFFF || n < 0 {
		return 0, 0, fmt.Errorf("memory range %q out of bounds", s)
	}
	return start, n, nil
}

// window clips [start, start+n) to mem.
func window(mem []byte, start, n int) []byte {
	if start < 0 || start >= len(mem) || n <= 0 {
		return nil
	}
	return mem[start:min(start+n, len(mem))]
}

// parseImmediate accepts decimal, 0x-prefixed hex and h-suffixed hex.
// The whole string must be a number.
func parseImmediate(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty")
	}

	digits, base := s, 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		digits, base = s[2:], 16
	case strings.HasSuffix(s, "h"), strings.HasSuffix(s, "H"):
		digits, base = s[:len(s)-1], 16
	}
	v, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return int(v), nil
}
