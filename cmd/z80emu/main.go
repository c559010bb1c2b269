package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Cloaked9000/frZ80/pkg/batch"
	"github.com/Cloaked9000/frZ80/pkg/emulator"
	"github.com/Cloaked9000/frZ80/pkg/ports"
	"github.com/Cloaked9000/frZ80/pkg/snapshot"
)

func main() {
	var verbose bool
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	rootCmd := &cobra.Command{
		Use:          "z80emu",
		Short:        "Z80 emulator: run machine code and trace every instruction",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	// run command
	var rc runConfig
	runCmd := &cobra.Command{
		Use:   "run [image]",
		Short: "Run a program image and print its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(args[0], rc, logger)
		},
	}
	rc.addFlags(runCmd.Flags())

	// batch command
	var bc batchConfig
	batchCmd := &cobra.Command{
		Use:   "batch [images...]",
		Short: "Run many program images in parallel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(args, bc, logger)
		},
	}
	bc.addFlags(batchCmd.Flags())

	// state command
	var memRange string
	stateCmd := &cobra.Command{
		Use:   "state [snapshot]",
		Short: "Show registers and memory from a saved snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := snapshot.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Program length: %d, halted: %v\n", s.ProgramLen, s.Halted)
			if err := snapshot.WriteJSON(os.Stdout, s.Registers); err != nil {
				return err
			}
			if memRange == "" {
				return nil
			}
			start, n, err := parseRange(memRange)
			if err != nil {
				return err
			}
			fmt.Print(hex.Dump(window(s.Memory, start, n)))
			return nil
		},
	}
	stateCmd.Flags().StringVar(&memRange, "memory", "", "Dump memory range start:length (hex with 0x or h suffix)")

	rootCmd.AddCommand(runCmd, batchCmd, stateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runConfig holds the flags of the run command.
type runConfig struct {
	trace       string
	consolePort string
	noConsole   bool
	raw         bool
	script      string
	saveState   string
	dumpRegs    bool
}

func (c *runConfig) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.trace, "trace", "t", "-", "Trace output file (- for stdout, empty to discard)")
	fs.StringVar(&c.consolePort, "console-port", "0", "Port wired to the terminal")
	fs.BoolVar(&c.noConsole, "no-console", false, "Do not bind the terminal to a port")
	fs.BoolVar(&c.raw, "raw", false, "Put the terminal in raw mode while running")
	fs.StringVar(&c.script, "lua", "", "Lua script implementing extra ports")
	fs.StringVar(&c.saveState, "save-state", "", "Write a snapshot after the run")
	fs.BoolVar(&c.dumpRegs, "dump-regs", false, "Print registers as JSON after the run")
}

func runImage(path string, cfg runConfig, logger *slog.Logger) error {
	program, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	e := emulator.New(emulator.WithLogger(logger))

	var console *ports.Console
	if !cfg.noConsole {
		port, err := parsePort(cfg.consolePort)
		if err != nil {
			return fmt.Errorf("console port: %w", err)
		}
		console = ports.NewConsole(os.Stdin, os.Stdout, logger)
		e.BindPort(port, console)
	}

	if cfg.script != "" {
		s, err := ports.LoadScript(cfg.script, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		s.Bind(e)
		logger.Info("Port script loaded", slog.String("path", cfg.script), slog.Any("ports", s.Ports()))
	}

	if cfg.raw {
		restore, err := ports.RawInput(os.Stdin)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer restore()
	}

	var trace bytes.Buffer
	runErr := e.Emulate(program, &trace)
	if console != nil {
		if err := console.Flush(); err != nil {
			logger.Warn("Console output lost", slog.Any("error", err))
		}
	}

	if err := drainTrace(cfg.trace, &trace); err != nil {
		return err
	}
	if cfg.dumpRegs {
		if err := snapshot.WriteJSON(os.Stdout, e.Registers()); err != nil {
			return err
		}
	}
	if cfg.saveState != "" {
		if err := snapshot.Save(cfg.saveState, snapshot.Capture(e, len(program))); err != nil {
			return err
		}
		logger.Info("Snapshot written", slog.String("path", cfg.saveState))
	}

	logger.Debug("Run complete",
		slog.String("image", path),
		slog.Uint64("instructions", e.Executed()),
		slog.Bool("halted", e.Halted()))
	return runErr
}

// drainTrace copies the buffered trace to its destination.
func drainTrace(dest string, trace io.Reader) error {
	switch dest {
	case "":
		return nil
	case "-":
		_, err := io.Copy(os.Stdout, trace)
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, trace)
	return err
}

// batchConfig holds the flags of the batch command.
type batchConfig struct {
	workers int
	input   string
	port    string
	output  string
	trace   bool
}

func (c *batchConfig) addFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.workers, "workers", 0, "Number of workers (0 = NumCPU)")
	fs.StringVar(&c.input, "input", "", "Bytes served to IN on the I/O port")
	fs.StringVar(&c.port, "port", "0", "I/O port for input and captured output")
	fs.StringVar(&c.output, "output", "", "Output JSON file path")
	fs.BoolVar(&c.trace, "trace", false, "Print each job's trace")
}

func runBatch(paths []string, cfg batchConfig, logger *slog.Logger) error {
	port, err := parsePort(cfg.port)
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}

	jobs := make([]batch.Job, 0, len(paths))
	for _, p := range paths {
		program, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		jobs = append(jobs, batch.Job{
			Name:    filepath.Base(p),
			Program: program,
			Input:   []byte(cfg.input),
			Port:    port,
			Trace:   cfg.trace,
		})
	}

	pool := batch.NewPool(cfg.workers, logger)
	logger.Info("Batch started", slog.Int("jobs", len(jobs)), slog.Int("workers", pool.NumWorkers))
	results := pool.Run(jobs).Results()

	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		} else if r.Halted {
			status = "halted"
		}
		fmt.Printf("%-24s %8d instructions  %s\n", r.Name, r.Executed, status)
		if len(r.Output) > 0 {
			fmt.Printf("  output: %q\n", r.Output)
		}
		if cfg.trace {
			fmt.Print(r.Trace)
		}
	}

	ran, failed := pool.Stats()
	fmt.Printf("\nRan %d programs, %d failed\n", ran, failed)

	if cfg.output != "" {
		f, err := os.Create(cfg.output)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := batch.WriteJSON(f, results); err != nil {
			return err
		}
		fmt.Printf("Written to %s\n", cfg.output)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d programs failed", failed, ran)
	}
	return nil
}
