// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vtable checks whether a Cortex-M vector table looks like the entry
// point of a real program.
package vtable

import (
	"encoding/binary"
	"fmt"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
)

// Word indexes in the vector table.
const (
	SP = 0 // initial stack pointer
	PC = 1 // reset handler
)

// Error describes why a vector table was rejected.
type Error struct {
	SP, PC uint32
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("vtable: sp=%#08x pc=%#08x: %s", e.SP, e.PC, e.Reason)
}

// Entry returns the initial stack pointer and the reset handler address
// stored in the first two words of vt.
func Entry(vt []byte) (sp, pc uint32) {
	le := binary.LittleEndian
	return le.Uint32(vt[SP*4:]), le.Uint32(vt[PC*4:])
}

// Check returns nil if the stack pointer points into SRAM and the reset
// handler is a Thumb address inside the program area, past the vector table.
func Check(l *board.Layout, vt []byte) error {
	if len(vt) < 8 {
		return &Error{Reason: "vector table too short"}
	}
	sp, pc := Entry(vt)
	fail := func(reason string) error { return &Error{sp, pc, reason} }

	// An empty full-descending stack starts at SRAMEnd.
	if sp < l.SRAMBase || sp > l.SRAMEnd {
		return fail("stack pointer outside SRAM")
	}
	// Cortex-M0+ executes Thumb code only.
	if pc&1 == 0 {
		return fail("reset handler is not a Thumb address")
	}
	addr := pc &^ 1
	pcMin := l.VectorTableAddr() + l.VectorTableSize
	pcMax := l.ProgEnd()
	if addr < pcMin || addr >= pcMax {
		return fail("reset handler outside the program area")
	}
	return nil
}

// Valid reports whether Check(l, vt) returns nil.
func Valid(l *board.Layout, vt []byte) bool {
	return Check(l, vt) == nil
}
