// processor.go - top-level machine: memory, device bus, and the flat set
// of threads across all cores (spec.md §3).
//
// Grounded on the teacher's machine_bus.go top-level "owns everything and
// wires it together" constructor.

package main

import (
	"fmt"
	"sync"
)

// ProcessorConfig collects the handful of CLI-tunable parameters that
// shape a Processor (spec.md §6).
type ProcessorConfig struct {
	NumCores        int
	ThreadsPerCore  int
	MemorySize      uint32
	SharedMemPath   string // "" for an anonymous region
	RandomizeMemory bool
	BlockDevicePath string
	FBWidth         int
	FBHeight        int
	PNGDumpDir      string
}

// Processor owns every piece of shared machine state: memory, the device
// bus and its peripherals, and the threads that execute against them.
type Processor struct {
	mem     *Memory
	bus     *DeviceBus
	uart    *UART
	pic     *PIC
	timer   *Timer
	block   *BlockDevice
	fb      *Framebuffer

	threads        []*Thread
	numCores       int
	threadsPerCore int

	Trace bool

	// DebugStopOnFault, when set by the GDB driver, pauses the thread that
	// faulted instead of letting it enter the guest trap handler (spec.md
	// §7: "if dbg_set_stop_on_fault is true (GDB mode), the loop pauses").
	DebugStopOnFault bool
	FaultStop        chan int // receives the id of a thread that stopped on fault

	linesMu    sync.Mutex
	lineEpoch  map[uint32]uint64 // sync-line granule -> epoch of last write
	writeEpoch uint64

	onTX func(byte)
}

// NewProcessor builds a fully-wired machine from cfg. Original_source's
// emulator defaults to a randomized memory image outside cosim mode (so
// guest bugs that depend on zeroed memory surface quickly) and a
// deterministic zero-fill under cosim, where the RTL model's own memory
// image must match byte for byte; callers pass RandomizeMemory accordingly.
func NewProcessor(cfg ProcessorConfig, onTX func(byte)) (*Processor, error) {
	if cfg.NumCores <= 0 {
		cfg.NumCores = 1
	}
	if cfg.ThreadsPerCore <= 0 {
		cfg.ThreadsPerCore = 4
	}
	if cfg.MemorySize == 0 {
		cfg.MemorySize = defaultMemorySize
	}

	var mem *Memory
	var err error
	if cfg.SharedMemPath != "" {
		mem, err = NewSharedMemory(cfg.SharedMemPath, cfg.MemorySize)
	} else {
		mem = NewMemory(cfg.MemorySize)
	}
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	if cfg.RandomizeMemory {
		mem.Randomize(0x9E3779B97F4A7C15)
	}

	bus := NewDeviceBus(mem)
	p := &Processor{
		mem:            mem,
		bus:            bus,
		numCores:       cfg.NumCores,
		threadsPerCore: cfg.ThreadsPerCore,
		onTX:           onTX,
		lineEpoch:      make(map[uint32]uint64),
	}

	p.uart = NewUART(func(b byte) {
		if p.onTX != nil {
			p.onTX(b)
		}
	})
	p.pic = NewPIC()
	p.timer = NewTimer()
	p.fb = NewFramebuffer(mem, cfg.FBWidth, cfg.FBHeight, cfg.PNGDumpDir)

	bus.MapIO(uartBase, uartEnd, p.uart.HandleRead, p.uart.HandleWrite)
	bus.MapIO(picBase, picEnd, p.pic.HandleRead, p.pic.HandleWrite)
	bus.MapIO(timerBase, perfCounterEnd, p.timer.HandleRead, p.timer.HandleWrite)
	bus.MapIO(fbControlBase, fbControlEnd, p.fb.HandleRead, p.fb.HandleWrite)
	bus.MapIO(threadResumeBase, threadResumeEnd, p.handleResumeRead, p.handleResumeWrite)

	if cfg.BlockDevicePath != "" {
		bd, err := NewBlockDevice(bus, cfg.BlockDevicePath)
		if err != nil {
			return nil, err
		}
		p.block = bd
		bus.MapIO(blockDeviceBase, blockDeviceEnd, bd.HandleRead, bd.HandleWrite)
	}

	total := cfg.NumCores * cfg.ThreadsPerCore
	p.threads = make([]*Thread, total)
	for i := 0; i < total; i++ {
		p.threads[i] = newThread(i, i/cfg.ThreadsPerCore, p)
	}

	return p, nil
}

// LoadImage writes consecutive 32-bit words starting at address 0, per
// spec.md §6's ASCII-hex image format (decoding is the host loop's job;
// this just places already-parsed words).
func (p *Processor) LoadImage(words []uint32) {
	for i, w := range words {
		p.mem.WriteWord(uint32(i*4), w)
	}
}

// RaiseInterrupt forwards to the PIC; used by the host's named-pipe reader.
func (p *Processor) RaiseInterrupt(id int) {
	if id < 0 || id >= numInterrupts {
		return
	}
	p.pic.RaiseInterrupt(1 << uint(id))
}

// Thread returns the thread at flat index id, used by the GDB stub and
// cosim bridge to address a specific hardware thread.
func (p *Processor) Thread(id int) *Thread {
	if id < 0 || id >= len(p.threads) {
		return nil
	}
	return p.threads[id]
}

func (p *Processor) NumThreads() int { return len(p.threads) }

// AllHalted reports whether every thread has halted, the scheduler's
// termination condition.
func (p *Processor) AllHalted() bool {
	for _, t := range p.threads {
		if !t.halted {
			return false
		}
	}
	return true
}

// Close releases any OS resources (shared memory mapping, block device
// file) the processor opened.
func (p *Processor) Close() error {
	if p.block != nil {
		p.block.Close()
	}
	return p.mem.Close()
}

// noteLineWrite/lineWrittenSince implement the cross-thread synchronized
// load/store link tracking described in spec.md §4.4/§5: a store from any
// thread to a 64-byte granule invalidates every thread's link to it,
// including the writer's own.
// Modeled with a monotonic epoch per granule rather than per-thread
// bookkeeping, since the link check only needs "has *anyone* written here
// since I linked", not who.
func (p *Processor) currentEpoch() uint64 {
	p.linesMu.Lock()
	defer p.linesMu.Unlock()
	return p.writeEpoch
}

func (p *Processor) noteLineWrite(threadID int, line uint32) {
	p.linesMu.Lock()
	defer p.linesMu.Unlock()
	p.writeEpoch++
	p.lineEpoch[line] = p.writeEpoch
}

// lineWrittenSince is checked by execScalarStore when a synchronized store
// executes: it reports whether the granule's last write epoch is newer than
// Thread.linkEpoch, the epoch execScalarLoad recorded at the synchronized
// load; see exec_memory.go.
func (p *Processor) lineWrittenSince(threadID int, line uint32) bool {
	p.linesMu.Lock()
	defer p.linesMu.Unlock()
	t := p.threads[threadID]
	return p.lineEpoch[line] > t.linkEpoch
}

func (p *Processor) handleResumeRead(addr uint32) uint32 {
	var bits uint32
	for i, t := range p.threads {
		if !t.halted {
			bits |= 1 << uint(i%32)
		}
	}
	return bits
}

func (p *Processor) handleResumeWrite(addr uint32, v uint32) {
	switch addr - threadResumeBase {
	case threadResumeSet:
		for i := 0; i < 32 && i < len(p.threads); i++ {
			if v&(1<<uint(i)) != 0 {
				p.threads[i].halted = false
			}
		}
	case threadHaltSet:
		for i := 0; i < 32 && i < len(p.threads); i++ {
			if v&(1<<uint(i)) != 0 && !p.threads[i].halted {
				p.threads[i].halted = true
				p.threads[i].recordHalt()
			}
		}
	}
}
