// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"io"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
)

var _ Device = &Mem{}

// Mem emulates the flash in RAM.
type Mem struct {
	l    *board.Layout
	data []byte
}

// NewMem returns an erased flash of l.FlashSize bytes.
func NewMem(l *board.Layout) *Mem {
	m := &Mem{l: l, data: make([]byte, l.FlashSize)}
	fill(m.data, Erased)
	return m
}

func fill(p []byte, b byte) {
	for i := range p {
		p[i] = b
	}
}

// Bytes returns the flash content. The caller may modify it to preload the
// flash.
func (m *Mem) Bytes() []byte { return m.data }

func (m *Mem) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n = copy(p, m.data[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

func (m *Mem) Erase(off, n uint32) (err error) {
	defer wrapErr("erase", off, int(n), &err)
	if err = CheckErase(m.l, off, n); err != nil {
		return
	}
	fill(m.data[off:off+n], Erased)
	return
}

func (m *Mem) Program(off uint32, data []byte) (err error) {
	defer wrapErr("program", off, len(data), &err)
	if err = CheckProgram(m.l, off, data); err != nil {
		return
	}
	dst := m.data[off:]
	for i, b := range data {
		dst[i] &= b
	}
	return
}
