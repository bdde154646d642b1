// timer.go - read-only cycle counter and the four performance-counter
// event-select/value register pairs (spec.md §4.7).

package main

import "sync/atomic"

// PerfEvent selects what a performance counter tallies.
type PerfEvent uint32

const (
	PerfEventNone PerfEvent = iota
	PerfEventInstructionRetired
	PerfEventITlbMiss
	PerfEventDTlbMiss
	PerfEventInterrupt
)

// Timer owns the free-running cycle counter and the 4 perf-counter pairs;
// Thread.step() calls Tick/CountEvent directly, and the bus callbacks below
// expose the same state to guest MMIO reads.
type Timer struct {
	cycles atomic.Uint64

	selects [4]atomic.Uint32
	values  [4]atomic.Uint32
}

func NewTimer() *Timer { return &Timer{} }

func (t *Timer) Tick() { t.cycles.Add(1) }

func (t *Timer) Cycles() uint64 { return t.cycles.Load() }

// CountEvent increments any perf counter currently selecting ev.
func (t *Timer) CountEvent(ev PerfEvent) {
	for i := range t.selects {
		if PerfEvent(t.selects[i].Load()) == ev {
			t.values[i].Add(1)
		}
	}
}

func (t *Timer) HandleRead(addr uint32) uint32 {
	if addr >= timerBase && addr <= timerEnd {
		return uint32(t.cycles.Load())
	}
	off := addr - perfCounterBase
	idx := int(off / perfSelectStride)
	if idx < 0 || idx >= 4 {
		return 0
	}
	if off%perfSelectStride == perfSelect0 {
		return t.selects[idx].Load()
	}
	return t.values[idx].Load()
}

func (t *Timer) HandleWrite(addr uint32, v uint32) {
	if addr >= timerBase && addr <= timerEnd {
		return // read-only
	}
	off := addr - perfCounterBase
	idx := int(off / perfSelectStride)
	if idx < 0 || idx >= 4 {
		return
	}
	if off%perfSelectStride == perfSelect0 {
		t.selects[idx].Store(v)
	}
}
