// named_pipe.go - the -i/-o interrupt pipes (spec.md §6): one byte per
// interrupt ID read from -i and forwarded to the PIC; -o is a sink pipe
// that receives a copy of every byte the UART transmits (wired in main.go).
//
// Grounded on the teacher's runtime_ipc.go named-pipe reader, which opens
// a FIFO non-blocking and polls it on the host loop's ticker instead of
// blocking a dedicated goroutine on a read that may never unblock.

package main

import (
	"fmt"
	"os"
	"golang.org/x/sys/unix"
)

// InterruptPipe wraps a FIFO opened O_NONBLOCK so reads return immediately
// when empty, suited to the select-style readiness probe spec.md §5 calls
// for.
type InterruptPipe struct {
	f *os.File
}

func OpenInterruptPipe(path string) (*InterruptPipe, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("named_pipe: open %s: %w", path, err)
	}
	return &InterruptPipe{f: os.NewFile(uintptr(fd), path)}, nil
}

func (p *InterruptPipe) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}

// Poll drains any bytes currently available without blocking, delivering
// each to deliver. Values of numInterrupts (16) or more are ignored with a
// warning, per spec.md §6.
func (p *InterruptPipe) Poll(deliver func(id int)) {
	if p.f == nil {
		return
	}
	var buf [64]byte
	n, err := p.f.Read(buf[:])
	if err != nil || n <= 0 {
		return
	}
	for _, b := range buf[:n] {
		if int(b) >= numInterrupts {
			fmt.Fprintf(os.Stderr, "named_pipe: interrupt id %d out of range, ignoring\n", b)
			continue
		}
		deliver(int(b))
	}
}

// OutputPipe wraps the -o FIFO for symmetry with InterruptPipe.
type OutputPipe struct {
	f *os.File
}

func OpenOutputPipe(path string) (*OutputPipe, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("named_pipe: open %s: %w", path, err)
	}
	return &OutputPipe{f: os.NewFile(uintptr(fd), path)}, nil
}

func (p *OutputPipe) Write(b byte) {
	if p.f == nil {
		return
	}
	p.f.Write([]byte{b})
}

func (p *OutputPipe) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}
