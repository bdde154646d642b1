package main

import (
	"os"
	"testing"
)

func TestDeviceBusRoutesMMIOAndFallsThroughToMemory(t *testing.T) {
	mem := NewMemory(4096)
	bus := NewDeviceBus(mem)

	const testRegionBase = ioBase + 0x9000
	var seen uint32
	bus.MapIO(testRegionBase, testRegionBase+3, func(addr uint32) uint32 {
		return 0x99
	}, func(addr, v uint32) {
		seen = v
	})

	if v, ok := bus.ReadWord(testRegionBase); !ok || v != 0x99 {
		t.Errorf("MMIO read = (0x%x, %v), want (0x99, true)", v, ok)
	}
	bus.WriteWord(testRegionBase, 0x42)
	if seen != 0x42 {
		t.Errorf("MMIO write callback saw 0x%x, want 0x42", seen)
	}

	if !bus.WriteWord(0x100, 0xDEADBEEF) {
		t.Fatalf("expected plain-memory write to succeed")
	}
	v, ok := bus.ReadWord(0x100)
	if !ok || v != 0xDEADBEEF {
		t.Errorf("memory fallthrough read = (0x%x, %v), want (0xDEADBEEF, true)", v, ok)
	}
}

func TestUARTRxTxRoundTrip(t *testing.T) {
	var txOut []byte
	u := NewUART(func(b byte) { txOut = append(txOut, b) })

	u.HandleWrite(uartBase+uartTX, 'A')
	if len(txOut) != 1 || txOut[0] != 'A' {
		t.Fatalf("tx output = %v, want ['A']", txOut)
	}

	if status := u.HandleRead(uartBase + uartStatus); status&uartStatusRXReady != 0 {
		t.Errorf("rx should not be ready before EnqueueByte")
	}
	u.EnqueueByte('z')
	if status := u.HandleRead(uartBase + uartStatus); status&uartStatusRXReady == 0 {
		t.Errorf("rx should be ready after EnqueueByte")
	}
	if got := u.HandleRead(uartBase + uartRX); got != 'z' {
		t.Errorf("rx byte = %q, want 'z'", got)
	}
}

func TestPICMaskAndAck(t *testing.T) {
	p := NewPIC()
	p.RaiseInterrupt(0x5)
	if p.PendingMasked() != 0x5 {
		t.Fatalf("pending = 0x%x, want 0x5", p.PendingMasked())
	}

	p.HandleWrite(picBase+picMask, 0x4)
	if p.PendingMasked() != 0x1 {
		t.Errorf("masked pending = 0x%x, want 0x1 (bit 2 masked off)", p.PendingMasked())
	}

	p.HandleWrite(picBase+picAck, 0x1)
	if p.PendingMasked() != 0 {
		t.Errorf("pending after ack = 0x%x, want 0", p.PendingMasked())
	}
}

func TestTimerPerfCounterSelectsInstructionRetired(t *testing.T) {
	tm := NewTimer()
	tm.HandleWrite(perfCounterBase+0*perfSelectStride+perfSelect0, uint32(PerfEventInstructionRetired))
	tm.CountEvent(PerfEventInstructionRetired)
	tm.CountEvent(PerfEventDTlbMiss)

	got := tm.HandleRead(perfCounterBase + 0*perfSelectStride + perfSelect0 + 4)
	if got != 1 {
		t.Errorf("perf counter 0 value = %d, want 1 (only retired events counted)", got)
	}
}

func TestBlockDeviceMMIORoundTrip(t *testing.T) {
	f, err := os.CreateTemp("", "blockdev-*.img")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	mem := NewMemory(16384)
	bus := NewDeviceBus(mem)
	bd, err := NewBlockDevice(bus, path)
	if err != nil {
		t.Fatalf("NewBlockDevice: %v", err)
	}
	defer bd.Close()

	var want [blockSize]byte
	for i := range want {
		want[i] = byte(i)
	}
	bus.WriteBlock(0x1000, want[:])

	bd.HandleWrite(blockDeviceBase+blockDeviceBlockIndex, 3)
	bd.HandleWrite(blockDeviceBase+blockDeviceBufferAddr, 0x1000)
	bd.HandleWrite(blockDeviceBase+blockDeviceDirection, blockDirWrite)
	bd.HandleWrite(blockDeviceBase+blockDeviceGo, 1)

	if status := bd.HandleRead(blockDeviceBase + blockDeviceStatus); status&blockStatusError != 0 {
		t.Fatalf("unexpected error status after write transfer: 0x%x", status)
	}

	var onDisk [blockSize]byte
	if err := bd.ReadBlocks(3, onDisk[:]); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	if onDisk != want {
		t.Fatalf("disk contents after block write transfer mismatch")
	}

	bus.WriteBlock(0x2000, make([]byte, blockSize))
	bd.HandleWrite(blockDeviceBase+blockDeviceBlockIndex, 3)
	bd.HandleWrite(blockDeviceBase+blockDeviceBufferAddr, 0x2000)
	bd.HandleWrite(blockDeviceBase+blockDeviceDirection, blockDirRead)
	bd.HandleWrite(blockDeviceBase+blockDeviceGo, 1)

	readBack, ok := bus.ReadBlock(0x2000, blockSize)
	if !ok {
		t.Fatalf("ReadBlock after read-transfer failed")
	}
	for i := range want {
		if readBack[i] != want[i] {
			t.Fatalf("readBack[%d] = %d, want %d", i, readBack[i], want[i])
		}
	}
}
