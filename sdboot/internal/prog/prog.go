// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prog validates a stream of UF2 blocks and tracks the flash pages
// and sectors touched by the image.
package prog

import (
	"fmt"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/ivset"
	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
	"github.com/embeddedgo/sdboot/sdboot/internal/vtable"
)

// Sink receives every block that passed all checks. Its result decides
// whether the block is accepted.
type Sink interface {
	Accept(s *Session, b *uf2.Block) bool
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(s *Session, b *uf2.Block) bool

func (f SinkFunc) Accept(s *Session, b *uf2.Block) bool { return f(s, b) }

// Reason tells why a block was rejected.
type Reason uint8

const (
	BadMagic Reason = iota + 1
	NoBlocks
	BlockCount
	Sequence
	Unaligned
	PayloadSize
	OutOfRange
	BadVectorTable
	Duplicate
	Refused
)

var reasons = [...]string{
	BadMagic:       "bad magic number",
	NoBlocks:       "zero total block count",
	BlockCount:     "total block count changed",
	Sequence:       "unexpected block number",
	Unaligned:      "target address not page aligned",
	PayloadSize:    "payload size is not one page",
	OutOfRange:     "target outside the program area",
	BadVectorTable: "invalid vector table",
	Duplicate:      "page already written",
	Refused:        "refused by sink",
}

func (r Reason) String() string {
	if int(r) < len(reasons) && reasons[r] != "" {
		return reasons[r]
	}
	return fmt.Sprintf("Reason(%d)", r)
}

// RejectError describes the last rejected block.
type RejectError struct {
	BlockNo uint32
	Addr    uint32
	Reason  Reason
	Err     error // optional cause
}

func (e *RejectError) Error() string {
	s := fmt.Sprintf("block %d (addr %#08x): %v", e.BlockNo, e.Addr, e.Reason)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *RejectError) Unwrap() error { return e.Err }

// Session holds the state of a single pass over a UF2 image.
type Session struct {
	Layout *board.Layout

	PagesWritten  ivset.Set // pages written by the image
	SectorsErased ivset.Set // sectors that must be erased before writing

	NumBlocks   uint32 // total number of blocks declared by the first block
	NumAccepted uint32 // number of accepted blocks, also the next block number

	VectorTable    []byte // vector table page staged until the end of the commit
	HasVectorTable bool   // a valid vector table was found
	IsDifferent    bool   // the image differs from the flash content

	sink Sink
	err  error
}

// New returns a new session that delivers the valid blocks to sink.
func New(l *board.Layout, sink Sink) *Session {
	return &Session{
		Layout:      l,
		VectorTable: make([]byte, l.PageSize),
		sink:        sink,
	}
}

// Restart prepares the session for the next pass over the same image: the
// block counters and the set of written pages are cleared and the blocks will
// be delivered to sink. The set of sectors to erase and the flags are kept.
func (s *Session) Restart(sink Sink) {
	s.NumBlocks = 0
	s.NumAccepted = 0
	s.PagesWritten.Clear()
	s.sink = sink
	s.err = nil
}

// Release frees the resources held by the session.
func (s *Session) Release() {
	s.PagesWritten.Release()
	s.SectorsErased.Release()
	*s = Session{}
}

// Err returns the reason of the last rejection or nil.
func (s *Session) Err() error { return s.err }

// Fail records err as the reason why the sink refuses block b. Sinks use it to
// report I/O errors.
func (s *Session) Fail(b *uf2.Block, err error) {
	s.err = &RejectError{b.BlockNo, b.TargetAddr, Refused, err}
}

func (s *Session) reject(b *uf2.Block, r Reason) bool {
	s.err = &RejectError{BlockNo: b.BlockNo, Addr: b.TargetAddr, Reason: r}
	return false
}

// Process validates the next block of the image. It returns false if the
// block is invalid and the whole pass must be aborted. Blocks for other
// families and blocks not intended for the main flash are skipped: Process
// returns true without passing them to the sink and without counting them.
func (s *Session) Process(b *uf2.Block) bool {
	s.err = nil
	l := s.Layout

	if !b.HasMagic() {
		return s.reject(b, BadMagic)
	}

	// A single UF2 file may contain programs for different targets. Like the
	// RP2040 bootrom, skip blocks without a family ID.
	if fam, ok := b.FamilyID(); !ok || fam != l.Family {
		return true
	}

	// The first block determines the total number of blocks.
	if s.NumAccepted == 0 {
		s.NumBlocks = b.NumBlocks
		if b.NumBlocks == 0 {
			return s.reject(b, NoBlocks)
		}
	} else if b.NumBlocks != s.NumBlocks {
		return s.reject(b, BlockCount)
	}
	if b.BlockNo != s.NumAccepted || b.BlockNo >= s.NumBlocks {
		return s.reject(b, Sequence)
	}

	if b.Flags&uf2.NotMainFlash != 0 {
		return true
	}

	start := b.TargetAddr
	end := start + b.PayloadSize
	switch {
	case start%l.PageSize != 0:
		return s.reject(b, Unaligned)
	case b.PayloadSize != l.PageSize:
		return s.reject(b, PayloadSize)
	case start < l.ProgBegin() || end > l.ProgEnd() || end < start:
		return s.reject(b, OutOfRange)
	}

	if start == l.VectorTableAddr() {
		s.HasVectorTable = vtable.Valid(l, b.Payload())
		if !s.HasVectorTable {
			return s.reject(b, BadVectorTable)
		}
	}

	dup := s.PagesWritten.Union(l.Page(start), l.Page(end)) != 1

	// A page may end exactly at a sector boundary. Always erase at least the
	// sector that contains the beginning of the page.
	startSector := l.Sector(start)
	endSector := max(l.Sector(end), startSector+1)
	s.SectorsErased.Union(startSector, endSector)

	if dup {
		return s.reject(b, Duplicate)
	}
	if !s.sink.Accept(s, b) {
		if s.err == nil {
			s.reject(b, Refused)
		}
		return false
	}
	s.NumAccepted++
	return true
}
