// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uf2

import (
	"io"
)

// Reader reads consecutive UF2 blocks from an io.Reader.
type Reader struct {
	r   io.Reader
	buf [BlockSize]byte
	n   int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next block into b. It returns io.EOF if there are no more
// blocks and io.ErrUnexpectedEOF if the stream ends in the middle of a block.
func (r *Reader) Next(b *Block) error {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		return err
	}
	if err := b.UnmarshalBinary(r.buf[:]); err != nil {
		return err
	}
	r.n++
	return nil
}

// Count returns the number of blocks read so far.
func (r *Reader) Count() int { return r.n }
