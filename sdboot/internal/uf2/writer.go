// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uf2

import (
	"encoding/binary"
	"io"
)

// Writer splits the written data into consecutive UF2 blocks of pageSize
// payload bytes each.
type Writer struct {
	w        io.Writer
	b        Block
	pageSize uint32
	fill     uint32
}

// NewWriter returns a writer that emits blocks for size bytes of data
// starting at addr. The family ID is stored only if flags has the
// FamilyIDPresent bit set.
func NewWriter(w io.Writer, addr, flags, family uint32, pageSize, size int) *Writer {
	if pageSize <= 0 || pageSize > DataSize {
		panic("uf2: bad page size")
	}
	u := new(Writer)
	u.w = w
	u.pageSize = uint32(pageSize)
	u.b.MagicStart0 = MagicStart0
	u.b.MagicStart1 = MagicStart1
	u.b.Flags = flags
	u.b.TargetAddr = addr
	u.b.PayloadSize = u.pageSize
	u.b.NumBlocks = uint32((size + pageSize - 1) / pageSize)
	u.b.FileSize = family
	u.b.MagicEnd = MagicEnd
	return u
}

func (u *Writer) emit() error {
	b := &u.b
	clear(b.Data[u.fill:])
	err := binary.Write(u.w, binary.LittleEndian, b)
	b.TargetAddr += u.pageSize
	b.BlockNo++
	u.fill = 0
	return err
}

func (u *Writer) Write(p []byte) (n int, err error) {
	b := &u.b
	for len(p) != 0 {
		m := copy(b.Data[u.fill:u.pageSize], p)
		n += m
		p = p[m:]
		u.fill += uint32(m)
		if u.fill == u.pageSize {
			if err = u.emit(); err != nil {
				return
			}
		}
	}
	return
}

// Flush writes the last, partially filled block padded with zeros.
func (u *Writer) Flush() error {
	if u.fill == 0 {
		return nil
	}
	return u.emit()
}

// Blocks returns the number of blocks written so far.
func (u *Writer) Blocks() int { return int(u.b.BlockNo) }
