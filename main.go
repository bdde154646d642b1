// main.go - CLI entry point, flag parsing and the three execution drivers
// (spec.md §6/C10): normal, cosim, gdb.
//
// Grounded on original_source/tools/emulator/main.c for flag semantics
// (parse_num_arg's hex-or-decimal acceptance, the -d comma-joined dump
// argument, mode dispatch) and on the teacher's flag-based cmd/ie32to64
// tool for the Go idiom (`flag` package, explicit os.Exit(1) on error).

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		mode       = flag.String("m", "normal", "execution mode: normal|cosim|gdb")
		verbose    = flag.Bool("v", false, "trace retirement to stdout")
		fbFlag     = flag.String("f", "", "open framebuffer window, WxH")
		dumpFlag   = flag.String("d", "", "file,start,len: dump memory on exit")
		blockFile  = flag.String("b", "", "attach block device backed by file")
		threadsArg = flag.String("t", "4", "threads per core (1..32)")
		coresArg   = flag.String("p", "1", "number of cores")
		memArg     = flag.String("c", "0x1000000", "memory size in bytes")
		refreshArg = flag.String("r", "16666", "framebuffer refresh interval (microseconds)")
		sharedFile = flag.String("s", "", "back memory with a shared file")
		inPipe     = flag.String("i", "", "named pipe to receive interrupt IDs")
		outPipe    = flag.String("o", "", "named pipe to emit bytes to")
		randomSched = flag.Bool("a", false, "enable randomized thread scheduling")
		pngDir     = flag.String("x", "", "dump one PNG per refresh tick to this directory")
		gdbAddr    = flag.String("g", ":8000", "GDB stub listen address (gdb mode)")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: emulator [opts] <image.hex>")
		return 1
	}
	imagePath := flag.Arg(0)

	threads, err := parseNumArg(*threadsArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator: -t: %v\n", err)
		return 1
	}
	cores, err := parseNumArg(*coresArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator: -p: %v\n", err)
		return 1
	}
	memSize, err := parseNumArg(*memArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator: -c: %v\n", err)
		return 1
	}
	refreshUs, err := parseNumArg(*refreshArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator: -r: %v\n", err)
		return 1
	}

	fbWidth, fbHeight := 640, 480
	if *fbFlag != "" {
		fbWidth, fbHeight, err = parseWxH(*fbFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "emulator: -f: %v\n", err)
			return 1
		}
	}

	imgFile, err := os.Open(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator: %v\n", err)
		return 1
	}
	words, err := LoadHexImage(imgFile)
	imgFile.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator: %v\n", err)
		return 1
	}

	term := enableRawTerminal()
	defer term.Restore()

	q := &quitFlag{}
	stopSignals := installSignalHandler(q)
	defer stopSignals()

	cfg := ProcessorConfig{
		NumCores:        int(cores),
		ThreadsPerCore:  int(threads),
		MemorySize:      memSize,
		SharedMemPath:   *sharedFile,
		RandomizeMemory: *mode != "cosim",
		BlockDevicePath: *blockFile,
		FBWidth:         fbWidth,
		FBHeight:        fbHeight,
		PNGDumpDir:      *pngDir,
	}

	var outPipeHandle *OutputPipe
	if *outPipe != "" {
		outPipeHandle, err = OpenOutputPipe(*outPipe)
		if err != nil {
			fmt.Fprintf(os.Stderr, "emulator: %v\n", err)
			return 1
		}
		defer outPipeHandle.Close()
	}

	proc, err := NewProcessor(cfg, func(b byte) {
		os.Stdout.Write([]byte{b})
		if outPipeHandle != nil {
			outPipeHandle.Write(b)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "emulator: %v\n", err)
		return 1
	}
	defer proc.Close()
	proc.Trace = *verbose
	proc.LoadImage(words)

	sched := NewScheduler(proc, *randomSched, uint64(time.Now().UnixNano()))

	var inPipeHandle *InterruptPipe
	if *inPipe != "" {
		inPipeHandle, err = OpenInterruptPipe(*inPipe)
		if err != nil {
			fmt.Fprintf(os.Stderr, "emulator: %v\n", err)
			return 1
		}
		defer inPipeHandle.Close()
	}

	defer printInstructionStats(proc)

	switch *mode {
	case "cosim":
		bridge := NewCosimBridge(proc, sched, os.Stdin, os.Stdout)
		if err := bridge.Run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			dumpOnExit(proc, *dumpFlag)
			return 1
		}
	case "gdb":
		stub := NewGDBStub(proc, sched, *gdbAddr)
		defer stub.Close()
		if err := stub.Serve(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			dumpOnExit(proc, *dumpFlag)
			return 1
		}
	default:
		if err := runHostLoop(proc, sched, q, fbFlag, refreshUs, inPipeHandle); err != nil {
			fmt.Fprintln(os.Stderr, err)
			dumpOnExit(proc, *dumpFlag)
			return 1
		}
	}

	dumpOnExit(proc, *dumpFlag)
	return 0
}

// runHostLoop drives the normal-mode execute_instructions loop, with an
// errgroup supervising the concurrent host-side listeners spec.md §5
// describes: the refresh ticker (framebuffer scanout and the interrupt
// pipe), alongside stdin itself when poll_inputs treats it as a second
// serial source (SPEC_FULL.md §11).
func runHostLoop(proc *Processor, sched *Scheduler, q *quitFlag, fbFlag *string, refreshUs uint32, pipe *InterruptPipe) error {
	if *fbFlag != "" {
		if err := proc.fb.OpenWindow(1); err != nil {
			return fmt.Errorf("host_loop: %w", err)
		}
	}

	g := new(errgroup.Group)
	done := make(chan struct{})

	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(refreshUs) * time.Microsecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ticker.C:
				if pipe != nil {
					pipe.Poll(proc.RaiseInterrupt)
				}
				proc.fb.mu.Lock()
				enabled, width, height := proc.fb.enable != 0, proc.fb.width, proc.fb.height
				proc.fb.mu.Unlock()
				if enabled {
					proc.fb.present(width, height)
				}
			}
		}
	})

	// poll_inputs: without a framebuffer window, stdin itself doubles as a
	// second serial-input source feeding the UART queue (SPEC_FULL.md §11).
	if *fbFlag == "" {
		stdinBytes := make(chan byte, 256)
		g.Go(func() error {
			var buf [1]byte
			for {
				n, err := os.Stdin.Read(buf[:])
				if n > 0 {
					select {
					case stdinBytes <- buf[0]:
					case <-done:
						return nil
					}
				}
				if err != nil {
					return nil
				}
			}
		})
		g.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				case b := <-stdinBytes:
					proc.uart.EnqueueByte(b)
				}
			}
		})
	}

	const stepsPerBatch = 10000
	for !q.isSet() {
		if sched.ExecuteInstructions(stepsPerBatch) < stepsPerBatch {
			break
		}
		if proc.Trace {
			fmt.Fprintf(os.Stdout, "cycle=%d\n", proc.timer.Cycles())
		}
	}

	close(done)
	return g.Wait()
}

func printInstructionStats(proc *Processor) {
	fmt.Fprintf(os.Stderr, "cycles: %d\n", proc.timer.Cycles())
	for i := 0; i < 4; i++ {
		fmt.Fprintf(os.Stderr, "perf%d: select=%d value=%d\n", i,
			proc.timer.selects[i].Load(), proc.timer.values[i].Load())
	}
}

func dumpOnExit(proc *Processor, spec string) {
	if spec == "" {
		return
	}
	fields := strings.SplitN(spec, ",", 3)
	if len(fields) != 3 {
		fmt.Fprintf(os.Stderr, "emulator: -d: expected file,start,len\n")
		return
	}
	start, err1 := parseNumArg(fields[1])
	length, err2 := parseNumArg(fields[2])
	if err1 != nil || err2 != nil {
		fmt.Fprintf(os.Stderr, "emulator: -d: bad start/len\n")
		return
	}
	buf := proc.mem.DumpRange(uint32(start), uint32(length))
	if err := os.WriteFile(fields[0], buf, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "emulator: -d: %v\n", err)
	}
}

// parseNumArg accepts both decimal and 0x-prefixed hex, matching
// original_source's parse_num_arg (spec.md is silent on the distinction).
func parseNumArg(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric argument: %w", err)
	}
	return uint32(v), nil
}

func parseWxH(s string) (int, int, error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WxH, got %q", s)
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("expected WxH, got %q", s)
	}
	return w, h, nil
}
