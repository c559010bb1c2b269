package emulator_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Cloaked9000/frZ80/pkg/cpu"
	"github.com/Cloaked9000/frZ80/pkg/emulator"
	"github.com/Cloaked9000/frZ80/pkg/inst"
)

// traceLines splits a trace buffer into its lines.
func traceLines(buf *bytes.Buffer) []string {
	s := strings.TrimSuffix(buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type failWriter struct{ err error }

func (w failWriter) Write([]byte) (int, error) { return 0, w.err }

var _ = Describe("Emulator", func() {
	var (
		e     *emulator.Emulator
		trace *bytes.Buffer
	)

	BeforeEach(func() {
		e = emulator.New()
		trace = &bytes.Buffer{}
	})

	run := func(program ...byte) {
		Expect(e.Emulate(program, trace)).To(Succeed())
	}

	Describe("Reset state", func() {
		It("should start with SP at the top of memory", func() {
			r := e.Registers()
			Expect(r.SP).To(Equal(cpu.Pair(0xFFFF)))
			Expect(r.PC).To(Equal(uint16(0)))
			Expect(r.Main.AF).To(Equal(cpu.Pair(0)))
		})

		It("should zero registers and keep port bindings", func() {
			var got []byte
			e.BindPort(0, cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				got = append(got, data[0])
			}))
			run(0x3E, 0x41) // LD A, 65
			e.Reset()
			Expect(e.Registers().Main.A()).To(Equal(uint8(0)))

			run(0x3E, 0x42, 0xD3, 0x00) // LD A, 66; OUT (0), A
			Expect(got).To(Equal([]byte{0x42}))
		})
	})

	Describe("Loads", func() {
		It("should decode LD BC, nn", func() {
			run(0x01, 0x34, 0x12)

			Expect(e.Registers().Main.BC).To(Equal(cpu.Pair(0x1234)))
			Expect(e.Registers().PC).To(Equal(uint16(3)))
			Expect(e.Executed()).To(Equal(uint64(1)))
			Expect(traceLines(trace)).To(Equal([]string{"LD BC, 4660"}))
		})

		It("should alias 8-bit registers onto pairs", func() {
			run(0x06, 0x12, 0x0E, 0x34) // LD B, 18; LD C, 52
			Expect(e.Registers().Main.BC).To(Equal(cpu.Pair(0x1234)))
			Expect(traceLines(trace)).To(Equal([]string{"LD B, 18", "LD C, 52"}))
		})

		It("should store and load through absolute addresses", func() {
			run(
				0x21, 0xCD, 0xAB, // LD HL, 0xABCD
				0x22, 0x00, 0x40, // LD (0x4000), HL
				0x2A, 0x00, 0x40, // LD HL, (0x4000)
				0x3A, 0x01, 0x40, // LD A, (0x4001)
			)
			mem := e.Memory()
			Expect(mem[0x4000]).To(Equal(uint8(0xCD)))
			Expect(mem[0x4001]).To(Equal(uint8(0xAB)))
			Expect(e.Registers().Main.A()).To(Equal(uint8(0xAB)))
			Expect(traceLines(trace)[1]).To(Equal("LD (16384), HL"))
			Expect(traceLines(trace)[3]).To(Equal("LD A, (16385)"))
		})

		It("should read zero past the end of the program", func() {
			r := e.Registers()
			r.Main.SetA(9)
			e.SetRegisters(r)

			run(0x3E) // LD A, n with n beyond the image

			Expect(e.Registers().Main.A()).To(Equal(uint8(0)))
			Expect(traceLines(trace)).To(Equal([]string{"LD A, 0"}))
		})
	})

	Describe("Operand tables", func() {
		It("should resolve slot 6 against the current HL", func() {
			r := e.Registers()
			r.Main.HL = 0x4000
			e.SetRegisters(r)

			e.GetR(6).Store(0x42)
			Expect(e.Memory()[0x4000]).To(Equal(uint8(0x42)))

			r.Main.HL = 0x4001
			e.SetRegisters(r)
			Expect(e.GetR(6).Load()).To(Equal(uint8(0)))
		})

		It("should map rp slot 3 to SP and rp2 slot 3 to AF", func() {
			Expect(e.GetRP(0)).To(BeIdenticalTo(e.GetRP2(0)))
			*e.GetRP(3) = 0x1234
			*e.GetRP2(3) = 0x5600
			Expect(e.Registers().SP).To(Equal(cpu.Pair(0x1234)))
			Expect(e.Registers().Main.AF).To(Equal(cpu.Pair(0x5600)))
		})

		It("should execute ALU ops with a memory operand", func() {
			run(
				0x21, 0x05, 0x00, // LD HL, 5
				0x3E, 0x01, // LD A, 1
				0x86, // ADD A, (HL); (HL) is this opcode
			)
			Expect(e.Registers().Main.A()).To(Equal(uint8(0x87)))
			Expect(traceLines(trace)[2]).To(Equal("ADD A, (HL)"))
		})
	})

	Describe("Stack", func() {
		It("should push high byte first and pop it back", func() {
			e.Push(0xBEEF)
			Expect(e.Registers().SP).To(Equal(cpu.Pair(0xFFFD)))
			Expect(e.Memory()[0xFFFE]).To(Equal(uint8(0xBE)))
			Expect(e.Memory()[0xFFFD]).To(Equal(uint8(0xEF)))

			Expect(e.Pop()).To(Equal(uint16(0xBEEF)))
			Expect(e.Registers().SP).To(Equal(cpu.Pair(0xFFFF)))
		})

		It("should round-trip AF through PUSH and POP", func() {
			run(
				0x3E, 0x80, // LD A, 128
				0xF5,       // PUSH AF
				0x3E, 0x00, // LD A, 0
				0xC1, // POP BC
			)
			Expect(e.Registers().Main.B()).To(Equal(uint8(0x80)))
			Expect(e.Registers().SP).To(Equal(cpu.Pair(0xFFFF)))
		})

		It("should drop unmodelled flag bits on POP AF", func() {
			run(
				0x01, 0xFF, 0xFF, // LD BC, 0xFFFF
				0xC5, // PUSH BC
				0xF1, // POP AF
			)
			r := e.Registers()
			Expect(r.Main.A()).To(Equal(uint8(0xFF)))
			Expect(r.Main.F()).To(Equal(cpu.FlagMask))
			Expect(traceLines(trace)[2]).To(Equal("POP AF"))
		})
	})

	Describe("Exchanges", func() {
		It("should swap AF with the shadow bank", func() {
			run(0x3E, 0x05, 0x08) // LD A, 5; EX AF, AF'
			r := e.Registers()
			Expect(r.Main.A()).To(Equal(uint8(0)))
			Expect(r.Shadow.A()).To(Equal(uint8(5)))
			Expect(traceLines(trace)[1]).To(Equal("EX AF, AF'"))
		})

		It("should swap BC, DE and HL on EXX", func() {
			run(
				0x01, 0x34, 0x12, // LD BC, 0x1234
				0xD9,             // EXX
				0x01, 0x78, 0x56, // LD BC, 0x5678
				0xD9, // EXX
			)
			r := e.Registers()
			Expect(r.Main.BC).To(Equal(cpu.Pair(0x1234)))
			Expect(r.Shadow.BC).To(Equal(cpu.Pair(0x5678)))
		})

		It("should exchange HL with the top of stack", func() {
			run(
				0x01, 0x11, 0x11, // LD BC, 0x1111
				0xC5,             // PUSH BC
				0x21, 0x22, 0x22, // LD HL, 0x2222
				0xE3, // EX (SP), HL
			)
			Expect(e.Registers().Main.HL).To(Equal(cpu.Pair(0x1111)))
			Expect(e.Pop()).To(Equal(uint16(0x2222)))
		})

		It("should swap DE and HL", func() {
			run(
				0x21, 0x11, 0x11, // LD HL, 0x1111
				0x11, 0x22, 0x22, // LD DE, 0x2222
				0xEB, // EX DE, HL
			)
			r := e.Registers()
			Expect(r.Main.HL).To(Equal(cpu.Pair(0x2222)))
			Expect(r.Main.DE).To(Equal(cpu.Pair(0x1111)))
			Expect(traceLines(trace)[2]).To(Equal("EX DE, HL"))
		})
	})

	Describe("Control flow", func() {
		It("should jump forward over skipped code", func() {
			run(0x18, 0x02, 0x3E, 0x01, 0x3E, 0x02) // JR 4; LD A, 1; LD A, 2
			Expect(e.Registers().Main.A()).To(Equal(uint8(2)))
			Expect(traceLines(trace)).To(Equal([]string{"JR 4", "LD A, 2"}))
		})

		It("should loop with DJNZ", func() {
			run(0x06, 0x03, 0x3C, 0x10, 0xFD) // LD B, 3; INC A; DJNZ 2
			r := e.Registers()
			Expect(r.Main.A()).To(Equal(uint8(3)))
			Expect(r.Main.B()).To(Equal(uint8(0)))
			Expect(traceLines(trace)).To(HaveLen(7))
			Expect(traceLines(trace)[2]).To(Equal("DJNZ 2"))
		})

		It("should fall through an untaken conditional jump", func() {
			run(
				0x3E, 0x00, // LD A, 0
				0xB7,       // OR A
				0x20, 0x02, // JR NZ, 7
				0x06, 0x01, // LD B, 1
			)
			Expect(e.Registers().Main.B()).To(Equal(uint8(1)))
			Expect(traceLines(trace)[2]).To(Equal("JR NZ, 7"))
		})

		It("should call a subroutine and return", func() {
			run(
				0xCD, 0x07, 0x00, // CALL 7
				0x3E, 0x07, // LD A, 7
				0x76,       // HALT
				0x00,       // NOP
				0x06, 0x09, // LD B, 9
				0xC9, // RET
			)
			r := e.Registers()
			Expect(r.Main.A()).To(Equal(uint8(7)))
			Expect(r.Main.B()).To(Equal(uint8(9)))
			Expect(r.SP).To(Equal(cpu.Pair(0xFFFF)))
			Expect(e.Halted()).To(BeTrue())
			Expect(traceLines(trace)).To(Equal([]string{
				"CALL 7", "LD B, 9", "RET", "LD A, 7", "HALT",
			}))
		})

		It("should stop on HALT", func() {
			run(0x76, 0x3E, 0x01)
			Expect(e.Registers().Main.A()).To(Equal(uint8(0)))
			Expect(e.Registers().PC).To(Equal(uint16(3)))
			Expect(traceLines(trace)).To(Equal([]string{"HALT"}))
		})

		It("should push the return address on RST", func() {
			run(0xFF)
			Expect(traceLines(trace)).To(Equal([]string{"RST 56"}))
			Expect(e.Registers().PC).To(Equal(uint16(56)))
			Expect(e.Pop()).To(Equal(uint16(1)))
		})

		It("should take CALL cc and RET cc only when the condition holds", func() {
			run(
				0x3E, 0x01, // LD A, 1
				0xB7,             // OR A
				0xCC, 0x0B, 0x00, // CALL Z, 11
				0xC4, 0x0B, 0x00, // CALL NZ, 11
				0x76,       // HALT
				0x00,       // NOP
				0x06, 0x05, // LD B, 5
				0xC8, // RET Z
				0xC0, // RET NZ
			)
			r := e.Registers()
			Expect(r.Main.B()).To(Equal(uint8(5)))
			Expect(r.SP).To(Equal(cpu.Pair(0xFFFF)))
			Expect(e.Halted()).To(BeTrue())
			Expect(traceLines(trace)[2:]).To(Equal([]string{
				"CALL Z, 11", "CALL NZ, 11", "LD B, 5", "RET Z", "RET NZ", "HALT",
			}))
		})

		It("should take JP cc only when the condition holds", func() {
			run(
				0xAF,             // XOR A
				0xC2, 0x07, 0x00, // JP NZ, 7
				0xCA, 0x09, 0x00, // JP Z, 9
				0x06, 0x01, // LD B, 1
				0x0E, 0x02, // LD C, 2
			)
			r := e.Registers()
			Expect(r.Main.B()).To(Equal(uint8(0)))
			Expect(r.Main.C()).To(Equal(uint8(2)))
			Expect(traceLines(trace)[1:]).To(Equal([]string{"JP NZ, 7", "JP Z, 9", "LD C, 2"}))
		})

		It("should restore IFF1 from IFF2 on RETN and RETI", func() {
			for _, tc := range []struct {
				op   byte
				name string
			}{{0x45, "RETN"}, {0x4D, "RETI"}} {
				e = emulator.New()
				trace = &bytes.Buffer{}
				r := e.Registers()
				r.IFF2 = true
				e.SetRegisters(r)

				run(
					0x01, 0x08, 0x00, // LD BC, 8
					0xC5,        // PUSH BC
					0xED, tc.op, // RETN or RETI
					0x3E, 0x01, // LD A, 1
					0x06, 0x02, // LD B, 2
				)
				r = e.Registers()
				Expect(r.IFF1).To(BeTrue(), tc.name)
				Expect(r.Main.A()).To(BeZero(), tc.name)
				Expect(r.Main.B()).To(Equal(uint8(2)), tc.name)
				Expect(r.SP).To(Equal(cpu.Pair(0xFFFF)), tc.name)
				Expect(traceLines(trace)[2]).To(Equal(tc.name))
			}
		})

		It("should set and clear both interrupt flip-flops", func() {
			run(0xFB) // EI
			r := e.Registers()
			Expect(r.IFF1 && r.IFF2).To(BeTrue())
			Expect(traceLines(trace)).To(Equal([]string{"EI"}))

			run(0xF3) // DI
			r = e.Registers()
			Expect(r.IFF1 || r.IFF2).To(BeFalse())
		})

		It("should jump through HL", func() {
			run(0x21, 0x06, 0x00, 0xE9, 0x3E, 0x01, 0x3E, 0x02) // LD HL, 6; JP (HL)
			Expect(e.Registers().Main.A()).To(Equal(uint8(2)))
			Expect(traceLines(trace)[1]).To(Equal("JP (HL)"))
		})
	})

	Describe("Arithmetic", func() {
		It("should set half carry on ADD", func() {
			run(0x3E, 0x0F, 0xC6, 0x01)
			r := e.Registers()
			Expect(r.Main.A()).To(Equal(uint8(0x10)))
			Expect(r.Main.Flag(cpu.FlagH)).To(BeTrue())
			Expect(traceLines(trace)[1]).To(Equal("ADD A, 1"))
		})

		It("should borrow on SUB", func() {
			run(0xD6, 0x01)
			r := e.Registers()
			Expect(r.Main.A()).To(Equal(uint8(0xFF)))
			Expect(r.Main.F() & (cpu.FlagC | cpu.FlagN | cpu.FlagS)).To(Equal(cpu.FlagC | cpu.FlagN | cpu.FlagS))
			Expect(traceLines(trace)).To(Equal([]string{"SUB 1"}))
		})

		It("should subtract with carry into HL", func() {
			run(
				0x21, 0x00, 0x10, // LD HL, 0x1000
				0x01, 0x01, 0x00, // LD BC, 1
				0xED, 0x42, // SBC HL, BC
			)
			Expect(e.Registers().Main.HL).To(Equal(cpu.Pair(0x0FFF)))
			Expect(traceLines(trace)[2]).To(Equal("SBC HL, BC"))
		})

		It("should add with carry into HL", func() {
			run(
				0x37,             // SCF
				0x21, 0xFF, 0x0F, // LD HL, 0x0FFF
				0x01, 0x01, 0x00, // LD BC, 1
				0xED, 0x4A, // ADC HL, BC
			)
			r := e.Registers()
			Expect(r.Main.HL).To(Equal(cpu.Pair(0x1001)))
			Expect(r.Main.Flag(cpu.FlagC)).To(BeFalse())
			Expect(r.Main.Flag(cpu.FlagN)).To(BeFalse())
			Expect(traceLines(trace)[3]).To(Equal("ADC HL, BC"))
		})
	})

	Describe("Ports", func() {
		It("should route OUT (n), A and IN A, (n)", func() {
			var out []byte
			e.BindPort(0, cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				Expect(dir).To(Equal(cpu.Write))
				out = append(out, data[0])
			}))
			e.BindPort(5, cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				data[0] = 0x99
			}))

			run(0x3E, 0x41, 0xD3, 0x00, 0xDB, 0x05)

			Expect(out).To(Equal([]byte{0x41}))
			Expect(e.Registers().Main.A()).To(Equal(uint8(0x99)))
			Expect(traceLines(trace)).To(Equal([]string{"LD A, 65", "OUT (0), A", "IN A, (5)"}))
		})

		It("should address ports through BC on IN r, (C) and OUT (C), r", func() {
			var out []byte
			e.BindPort(0x0110, cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				if dir == cpu.Read {
					data[0] = 0x80
					return
				}
				out = append(out, data[0])
			}))

			run(
				0x01, 0x10, 0x01, // LD BC, 0x0110
				0xED, 0x50, // IN D, (C)
				0xED, 0x51, // OUT (C), D
				0xED, 0x71, // OUT (C), 0
			)

			r := e.Registers()
			Expect(r.Main.D()).To(Equal(uint8(0x80)))
			Expect(r.Main.Flag(cpu.FlagS)).To(BeTrue())
			Expect(r.Main.Flag(cpu.FlagZ)).To(BeFalse())
			Expect(out).To(Equal([]byte{0x80, 0x00}))
			Expect(traceLines(trace)[1:]).To(Equal([]string{"IN D, (C)", "OUT (C), D", "OUT (C), 0"}))
		})

		It("should read zero from an unbound port", func() {
			run(0x3E, 0x10, 0xDB, 0x07)
			Expect(e.Registers().Main.A()).To(Equal(uint8(0)))
		})

		It("should accept handlers through options", func() {
			var got uint8
			e = emulator.New(emulator.WithPort(3, cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				got = data[0]
			})))
			run(0x3E, 0x07, 0xD3, 0x03)
			Expect(got).To(Equal(uint8(7)))
		})
	})

	Describe("Block operations", func() {
		It("should copy BC bytes with LDIR", func() {
			r := e.Registers()
			r.Main.AF = 0x00FF
			e.SetRegisters(r)

			run(
				0x21, 0x00, 0x00, // LD HL, 0
				0x11, 0x00, 0x02, // LD DE, 512
				0x01, 0x03, 0x00, // LD BC, 3
				0xED, 0xB0, // LDIR
			)

			r = e.Registers()
			mem := e.Memory()
			Expect(mem[0x200:0x203]).To(Equal([]byte{0x21, 0x00, 0x00}))
			Expect(r.Main.HL).To(Equal(cpu.Pair(3)))
			Expect(r.Main.DE).To(Equal(cpu.Pair(0x203)))
			Expect(r.Main.BC).To(Equal(cpu.Pair(0)))
			Expect(r.Main.F() & (cpu.FlagPV | cpu.FlagH | cpu.FlagN)).To(BeZero())
			Expect(r.Main.Flag(cpu.FlagC)).To(BeTrue())
			Expect(traceLines(trace)).To(Equal([]string{"LD HL, 0", "LD DE, 512", "LD BC, 3", "LDIR"}))
		})

		It("should set PV after a single LDI with BC left", func() {
			run(0x01, 0x02, 0x00, 0xED, 0xA0) // LD BC, 2; LDI
			r := e.Registers()
			Expect(r.Main.BC).To(Equal(cpu.Pair(1)))
			Expect(r.Main.Flag(cpu.FlagPV)).To(BeTrue())
		})

		It("should stop CPIR on a match", func() {
			run(
				0x21, 0x0B, 0x00, // LD HL, 11
				0x01, 0x05, 0x00, // LD BC, 5
				0x3E, 'c', // LD A, 'c'
				0xED, 0xB1, // CPIR
				0x76, // HALT
				'a', 'b', 'c', 'd', 'e',
			)
			r := e.Registers()
			Expect(r.Main.HL).To(Equal(cpu.Pair(14)))
			Expect(r.Main.BC).To(Equal(cpu.Pair(2)))
			Expect(r.Main.Flag(cpu.FlagZ)).To(BeTrue())
			Expect(r.Main.Flag(cpu.FlagPV)).To(BeTrue())
		})

		It("should write a buffer with OTIR", func() {
			var out []byte
			sink := cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				out = append(out, data[0])
			})
			for _, port := range []uint16{0x0210, 0x0110, 0x0010} {
				e.BindPort(port, sink)
			}

			run(
				0x21, 0x09, 0x00, // LD HL, 9
				0x01, 0x10, 0x03, // LD BC, 0x0310
				0xED, 0xB3, // OTIR
				0x76, // HALT
				'a', 'b', 'c',
			)

			r := e.Registers()
			Expect(string(out)).To(Equal("abc"))
			Expect(r.Main.B()).To(Equal(uint8(0)))
			Expect(r.Main.HL).To(Equal(cpu.Pair(12)))
			Expect(r.Main.Flag(cpu.FlagZ | cpu.FlagN)).To(BeTrue())
			Expect(traceLines(trace)).To(Equal([]string{"LD HL, 9", "LD BC, 784", "OTIR", "HALT"}))
		})

		It("should fill memory with INIR", func() {
			next := byte('x')
			src := cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				data[0] = next
				next++
			})
			e.BindPort(0x0200, src)
			e.BindPort(0x0100, src)

			run(0x21, 0x00, 0x01, 0x01, 0x00, 0x02, 0xED, 0xB2)

			Expect(e.Memory()[0x100:0x102]).To(Equal([]byte("xy")))
			Expect(e.Registers().Main.HL).To(Equal(cpu.Pair(0x102)))
		})
	})

	Describe("Decrementing block operations", func() {
		It("should copy backwards with LDDR", func() {
			run(
				0x21, 0x02, 0x00, // LD HL, 2
				0x11, 0x02, 0x02, // LD DE, 0x202
				0x01, 0x03, 0x00, // LD BC, 3
				0xED, 0xB8, // LDDR
			)
			r := e.Registers()
			Expect(e.Memory()[0x200:0x203]).To(Equal([]byte{0x21, 0x02, 0x00}))
			Expect(r.Main.HL).To(Equal(cpu.Pair(0xFFFF)))
			Expect(r.Main.DE).To(Equal(cpu.Pair(0x1FF)))
			Expect(r.Main.BC).To(Equal(cpu.Pair(0)))
			Expect(r.Main.Flag(cpu.FlagPV)).To(BeFalse())
			Expect(traceLines(trace)[3]).To(Equal("LDDR"))
		})

		It("should wrap HL on a single LDD", func() {
			run(
				0x01, 0x02, 0x00, // LD BC, 2
				0x11, 0x00, 0x01, // LD DE, 0x100
				0xED, 0xA8, // LDD
			)
			r := e.Registers()
			Expect(e.Memory()[0x100]).To(Equal(uint8(0x01)))
			Expect(r.Main.HL).To(Equal(cpu.Pair(0xFFFF)))
			Expect(r.Main.DE).To(Equal(cpu.Pair(0xFF)))
			Expect(r.Main.BC).To(Equal(cpu.Pair(1)))
			Expect(r.Main.Flag(cpu.FlagPV)).To(BeTrue())
			Expect(traceLines(trace)).To(Equal([]string{"LD BC, 2", "LD DE, 256", "LDD"}))
		})

		It("should search backwards with CPDR", func() {
			run(
				0x21, 0x0E, 0x00, // LD HL, 14
				0x01, 0x05, 0x00, // LD BC, 5
				0x3E, 'b', // LD A, 'b'
				0xED, 0xB9, // CPDR
				0x76, // HALT
				'a', 'b', 'c', 'd',
			)
			r := e.Registers()
			Expect(r.Main.HL).To(Equal(cpu.Pair(11)))
			Expect(r.Main.BC).To(Equal(cpu.Pair(2)))
			Expect(r.Main.Flag(cpu.FlagZ)).To(BeTrue())
			Expect(r.Main.Flag(cpu.FlagPV)).To(BeTrue())
			Expect(traceLines(trace)[3]).To(Equal("CPDR"))
		})

		It("should compare one byte with CPD", func() {
			run(
				0x21, 0x05, 0x00, // LD HL, 5
				0x01, 0x01, 0x00, // LD BC, 1
				0xED, 0xA9, // CPD
			)
			r := e.Registers()
			Expect(r.Main.HL).To(Equal(cpu.Pair(4)))
			Expect(r.Main.BC).To(Equal(cpu.Pair(0)))
			Expect(r.Main.Flag(cpu.FlagZ)).To(BeTrue())
			Expect(r.Main.Flag(cpu.FlagPV)).To(BeFalse())
			Expect(traceLines(trace)[2]).To(Equal("CPD"))
		})

		It("should fill memory downwards with INDR and IND", func() {
			next := byte('x')
			src := cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				data[0] = next
				next++
			})
			e.BindPort(0x0200, src)
			e.BindPort(0x0100, src)

			run(
				0x21, 0x01, 0x01, // LD HL, 0x101
				0x01, 0x00, 0x02, // LD BC, 0x0200
				0xED, 0xBA, // INDR
			)
			Expect(e.Memory()[0x100:0x102]).To(Equal([]byte("yx")))
			Expect(e.Registers().Main.HL).To(Equal(cpu.Pair(0xFF)))
			Expect(traceLines(trace)[2]).To(Equal("INDR"))

			trace.Reset()
			run(
				0x21, 0x00, 0x01, // LD HL, 0x100
				0x01, 0x00, 0x01, // LD BC, 0x0100
				0xED, 0xAA, // IND
			)
			r := e.Registers()
			Expect(e.Memory()[0x100]).To(Equal(uint8('z')))
			Expect(r.Main.HL).To(Equal(cpu.Pair(0xFF)))
			Expect(r.Main.B()).To(Equal(uint8(0)))
			Expect(r.Main.Flag(cpu.FlagZ)).To(BeTrue())
			Expect(traceLines(trace)[2]).To(Equal("IND"))
		})

		It("should write a buffer backwards with OTDR and OUTD", func() {
			var out []byte
			sink := cpu.PortFunc(func(dir cpu.Direction, data []byte) {
				out = append(out, data[0])
			})
			for _, port := range []uint16{0x0210, 0x0110, 0x0010} {
				e.BindPort(port, sink)
			}

			run(
				0x21, 0x0B, 0x00, // LD HL, 11
				0x01, 0x10, 0x03, // LD BC, 0x0310
				0xED, 0xBB, // OTDR
				0x76, // HALT
				'a', 'b', 'c',
			)
			r := e.Registers()
			Expect(string(out)).To(Equal("cba"))
			Expect(r.Main.HL).To(Equal(cpu.Pair(8)))
			Expect(r.Main.B()).To(Equal(uint8(0)))
			Expect(traceLines(trace)[2]).To(Equal("OTDR"))

			out = nil
			trace.Reset()
			run(
				0x21, 0x09, 0x00, // LD HL, 9
				0x01, 0x10, 0x03, // LD BC, 0x0310
				0xED, 0xAB, // OUTD
				0x76, // HALT
				'q',
			)
			r = e.Registers()
			Expect(string(out)).To(Equal("q"))
			Expect(r.Main.HL).To(Equal(cpu.Pair(8)))
			Expect(r.Main.B()).To(Equal(uint8(2)))
			Expect(r.Main.Flag(cpu.FlagZ)).To(BeFalse())
			Expect(traceLines(trace)[2]).To(Equal("OUTD"))
		})
	})

	Describe("ED map", func() {
		It("should set the interrupt mode", func() {
			run(0xED, 0x56)
			Expect(e.Registers().IM).To(Equal(uint8(1)))
			Expect(traceLines(trace)).To(Equal([]string{"IM 1"}))
		})

		It("should transfer A into I", func() {
			run(0x3E, 0x20, 0xED, 0x47)
			Expect(e.Registers().I).To(Equal(uint8(0x20)))
		})

		It("should store and load register pairs through absolute addresses", func() {
			run(
				0x31, 0x34, 0x12, // LD SP, 0x1234
				0xED, 0x73, 0x00, 0x40, // LD (16384), SP
				0xED, 0x5B, 0x00, 0x40, // LD DE, (16384)
			)
			Expect(e.Memory()[0x4000:0x4002]).To(Equal([]byte{0x34, 0x12}))
			Expect(e.Registers().Main.DE).To(Equal(cpu.Pair(0x1234)))
			Expect(traceLines(trace)[1:]).To(Equal([]string{"LD (16384), SP", "LD DE, (16384)"}))
		})

		It("should copy IFF2 into PV on LD A, I", func() {
			r := e.Registers()
			r.I = 0x80
			r.IFF2 = true
			r.Main.SetF(cpu.FlagC)
			e.SetRegisters(r)

			run(0xED, 0x57) // LD A, I
			r = e.Registers()
			Expect(r.Main.A()).To(Equal(uint8(0x80)))
			Expect(r.Main.F()).To(Equal(cpu.FlagS | cpu.FlagPV | cpu.FlagC))
			Expect(traceLines(trace)).To(Equal([]string{"LD A, I"}))
		})

		It("should clear PV on LD A, R with IFF2 reset", func() {
			run(0xED, 0x5F) // LD A, R
			r := e.Registers()
			// R counts the prefix and the opcode fetch.
			Expect(r.Main.A()).To(Equal(uint8(2)))
			Expect(r.Main.Flag(cpu.FlagPV)).To(BeFalse())
			Expect(r.Main.Flag(cpu.FlagZ)).To(BeFalse())
			Expect(traceLines(trace)).To(Equal([]string{"LD A, R"}))
		})

		It("should rotate nibbles through A and (HL)", func() {
			prog := []byte{
				0x21, 0x00, 0x40, // LD HL, 0x4000
				0x36, 0x34, // LD (HL), 0x34
				0x3E, 0x12, // LD A, 0x12
				0xED, 0x6F, // RLD
			}
			run(prog...)
			Expect(e.Memory()[0x4000]).To(Equal(uint8(0x42)))
			Expect(e.Registers().Main.A()).To(Equal(uint8(0x13)))
			Expect(traceLines(trace)[3]).To(Equal("RLD"))

			trace.Reset()
			prog[8] = 0x67 // RRD
			run(prog...)
			Expect(e.Memory()[0x4000]).To(Equal(uint8(0x23)))
			Expect(e.Registers().Main.A()).To(Equal(uint8(0x14)))
			Expect(traceLines(trace)[3]).To(Equal("RRD"))
		})

		It("should treat x=1 z=7 y=6 as NOP", func() {
			run(0xED, 0x77)
			Expect(traceLines(trace)).To(Equal([]string{"NOP"}))
		})

		It("should report undefined opcodes", func() {
			err := e.Emulate([]byte{0x00, 0xED, 0x00}, trace)

			Expect(errors.Is(err, emulator.ErrUnimplemented)).To(BeTrue())
			var de *emulator.DecodeError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.PC).To(Equal(uint16(2)))
			Expect(de.Prefix).To(Equal(inst.ED))
			Expect(de.Opcode).To(Equal(uint8(0x00)))
			Expect(traceLines(trace)).To(Equal([]string{"NOP"}))
		})
	})

	Describe("Prefixes", func() {
		It("should skip CB, DD and FD opcodes silently", func() {
			run(0xCB, 0x00, 0xDD, 0x21, 0xFD, 0x7E, 0x3E, 0x05)
			Expect(e.Registers().Main.A()).To(Equal(uint8(5)))
			Expect(traceLines(trace)).To(Equal([]string{"LD A, 5"}))
		})
	})

	Describe("Errors", func() {
		It("should reject programs larger than memory", func() {
			err := e.Emulate(make([]byte, cpu.MemorySize+1), trace)
			Expect(errors.Is(err, emulator.ErrProgramTooLarge)).To(BeTrue())
		})

		It("should return trace write failures", func() {
			boom := errors.New("boom")
			err := e.Emulate([]byte{0x00, 0x00}, failWriter{boom})
			Expect(errors.Is(err, boom)).To(BeTrue())
			Expect(e.Executed()).To(BeZero())
		})

		It("should accept a nil trace", func() {
			Expect(e.Emulate([]byte{0x3E, 0x01}, nil)).To(Succeed())
			Expect(e.Registers().Main.A()).To(Equal(uint8(1)))
		})
	})

	Describe("Logging", func() {
		It("should log run events at debug level", func() {
			var logs bytes.Buffer
			l := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
			e = emulator.New(emulator.WithLogger(l))

			run(0x00)

			Expect(logs.String()).To(ContainSubstring("Emulation finished"))
			Expect(logs.String()).To(ContainSubstring("instructions=1"))
		})
	})
})
