// terminal_host.go - raw-mode stdin handling (spec.md §6).
//
// Grounded on the teacher's terminal_host.go: term.MakeRaw when stdin is a
// TTY, with the previous state restored via an at-exit hook.

package main

import (
	"os"

	"golang.org/x/term"
)

// rawTerminal restores stdin to its original mode when closed; it is a
// no-op when stdin isn't a terminal.
type rawTerminal struct {
	fd    int
	state *term.State
}

func enableRawTerminal() *rawTerminal {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &rawTerminal{fd: fd}
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return &rawTerminal{fd: fd}
	}
	return &rawTerminal{fd: fd, state: state}
}

func (r *rawTerminal) Restore() {
	if r.state != nil {
		term.Restore(r.fd, r.state)
	}
}
