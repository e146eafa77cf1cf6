// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prog

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/ivset"
	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
)

var layout = board.Pico

// validBlock returns a single block image targeting the beginning of the
// program area. Its payload starts with a plausible vector table.
func validBlock() uf2.Block {
	b := uf2.Block{
		MagicStart0: uf2.MagicStart0,
		MagicStart1: uf2.MagicStart1,
		Flags:       uf2.FamilyIDPresent,
		TargetAddr:  layout.ProgBegin(),
		PayloadSize: layout.PageSize,
		BlockNo:     0,
		NumBlocks:   1,
		FileSize:    layout.Family,
		MagicEnd:    uf2.MagicEnd,
	}
	binary.LittleEndian.PutUint32(b.Data[0:], layout.SRAMEnd)
	binary.LittleEndian.PutUint32(b.Data[4:], (layout.FlashBase+layout.FlashSize/2)|1)
	return b
}

type fixture struct {
	t        *testing.T
	s        *Session
	result   bool
	accepted int64 // block number passed to the sink or -1
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, result: true, accepted: -1}
	f.s = New(&layout, SinkFunc(func(s *Session, b *uf2.Block) bool {
		f.accepted = int64(b.BlockNo)
		return f.result
	}))
	return f
}

func (f *fixture) ok(b uf2.Block) {
	f.t.Helper()
	written := f.s.PagesWritten.Len()
	accepted := f.s.NumAccepted
	f.accepted = -1
	require.True(f.t, f.s.Process(&b), "%v", f.s.Err())
	require.NoError(f.t, f.s.Err())
	require.EqualValues(f.t, b.BlockNo, f.accepted)
	require.Equal(f.t, accepted+1, f.s.NumAccepted)
	require.Equal(f.t, written+1, f.s.PagesWritten.Len())
	require.GreaterOrEqual(f.t, f.s.SectorsErased.Len(), 1)
}

func (f *fixture) skipped(b uf2.Block) {
	f.t.Helper()
	written := f.s.PagesWritten.Len()
	erased := f.s.SectorsErased.Len()
	accepted := f.s.NumAccepted
	f.accepted = -1
	require.True(f.t, f.s.Process(&b))
	require.EqualValues(f.t, -1, f.accepted, "sink invoked for a skipped block")
	require.Equal(f.t, accepted, f.s.NumAccepted)
	require.Equal(f.t, written, f.s.PagesWritten.Len())
	require.Equal(f.t, erased, f.s.SectorsErased.Len())
}

func (f *fixture) bad(b uf2.Block, reason Reason) {
	f.t.Helper()
	written := f.s.PagesWritten.Len()
	erased := f.s.SectorsErased.Len()
	accepted := f.s.NumAccepted
	f.accepted = -1
	require.False(f.t, f.s.Process(&b))
	require.EqualValues(f.t, -1, f.accepted, "sink invoked for a bad block")
	require.Equal(f.t, accepted, f.s.NumAccepted)
	require.Equal(f.t, written, f.s.PagesWritten.Len())
	require.Equal(f.t, erased, f.s.SectorsErased.Len())
	var re *RejectError
	require.True(f.t, errors.As(f.s.Err(), &re))
	require.Equal(f.t, reason, re.Reason, "%v", re)
}

func TestValidBlock(t *testing.T) {
	f := newFixture(t)
	f.ok(validBlock())
	require.Equal(t, []ivset.Interval{{Start: 0, End: 1}}, f.s.PagesWritten.Intervals())
	require.Equal(t, []ivset.Interval{{Start: 0, End: 1}}, f.s.SectorsErased.Intervals())
	require.EqualValues(t, 1, f.s.NumBlocks)
}

func TestBadMagic(t *testing.T) {
	f := newFixture(t)
	for _, edit := range []func(*uf2.Block){
		func(b *uf2.Block) { b.MagicStart0++ },
		func(b *uf2.Block) { b.MagicStart1++ },
		func(b *uf2.Block) { b.MagicEnd++ },
	} {
		b := validBlock()
		edit(&b)
		f.bad(b, BadMagic)
		// A block for another target must have valid magic numbers too.
		b.FileSize++
		f.bad(b, BadMagic)
	}
}

func TestFamilySkipped(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.Flags &^= uf2.FamilyIDPresent
	f.skipped(b)

	b = validBlock()
	b.FileSize++
	f.skipped(b)

	// Skipped blocks are not subject to any other check.
	b.BlockNo = 77
	b.TargetAddr = 3
	f.skipped(b)

	f.ok(validBlock())
}

func TestBlockCount(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.NumBlocks = 0
	f.bad(b, NoBlocks)

	f.ok(validBlock())

	b = validBlock()
	b.BlockNo++
	b.NumBlocks++
	b.TargetAddr += layout.PageSize
	f.bad(b, BlockCount)
}

func TestBlockOrder(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.NumBlocks = 3
	f.ok(b)

	// Block 0 again.
	b.TargetAddr += layout.PageSize
	f.bad(b, Sequence)

	b.BlockNo = 2
	f.bad(b, Sequence)

	b.BlockNo = 1
	f.ok(b)
	require.EqualValues(t, 2, f.s.NumAccepted)

	b.BlockNo = 3
	b.TargetAddr += layout.PageSize
	f.bad(b, Sequence)
}

func TestNotMainFlash(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.Flags |= uf2.NotMainFlash
	b.TargetAddr = 0 // not checked
	f.skipped(b)

	// The block number and count are still checked.
	b.BlockNo = 5
	f.bad(b, Sequence)
}

func TestAlignment(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.TargetAddr++
	f.bad(b, Unaligned)
}

func TestPayloadSize(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.PayloadSize--
	f.bad(b, PayloadSize)
	b.PayloadSize += 2
	f.bad(b, PayloadSize)
}

func TestProgramArea(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.TargetAddr = layout.ProgBegin() - layout.PageSize
	f.bad(b, OutOfRange)

	b.TargetAddr = layout.ProgEnd()
	f.bad(b, OutOfRange)

	b.TargetAddr = 0xffff_ff00
	f.bad(b, OutOfRange)

	b.TargetAddr = layout.ProgEnd() - layout.PageSize
	f.ok(b)
}

func TestDuplicatePage(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.NumBlocks = 3
	f.ok(b)

	b.BlockNo = 1
	f.bad(b, Duplicate)

	b.TargetAddr += layout.PageSize
	f.ok(b)
}

func TestDuplicateKeepsSectorAccounting(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.TargetAddr = layout.FlashBase + 5*layout.SectorSize
	f.s.PagesWritten.Union(layout.Page(b.TargetAddr), layout.Page(b.TargetAddr)+1)

	require.False(t, f.s.Process(&b))
	require.EqualValues(t, -1, f.accepted)
	require.Equal(t, []ivset.Interval{{Start: 5, End: 6}}, f.s.SectorsErased.Intervals())
}

func TestVectorTable(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.TargetAddr = layout.VectorTableAddr()
	for i := range b.Data {
		b.Data[i] = 0xff
	}
	f.bad(b, BadVectorTable)
	require.False(t, f.s.HasVectorTable)

	b = validBlock()
	b.TargetAddr = layout.VectorTableAddr()
	f.ok(b)
	require.True(t, f.s.HasVectorTable)
}

func TestStackPointerOutOfRange(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.TargetAddr = layout.VectorTableAddr()
	binary.LittleEndian.PutUint32(b.Data[0:], layout.SRAMEnd+4)
	f.bad(b, BadVectorTable)
}

func TestMultipleBlocks(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.NumBlocks = 3
	for b.BlockNo = 0; b.BlockNo < b.NumBlocks; b.BlockNo++ {
		f.ok(b)
		b.TargetAddr += layout.PageSize
	}
	f.bad(b, Sequence)
	require.Equal(t, []ivset.Interval{{Start: 0, End: 3}}, f.s.PagesWritten.Intervals())
}

func TestMultipleBlocksWithGaps(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.NumBlocks = 3
	for b.BlockNo = 0; b.BlockNo < b.NumBlocks; b.BlockNo++ {
		f.ok(b)
		b.TargetAddr += layout.PageSize * (b.BlockNo + 1)
	}
	f.bad(b, Sequence)
	want := []ivset.Interval{{Start: 0, End: 2}, {Start: 3, End: 4}}
	if diff := cmp.Diff(want, f.s.PagesWritten.Intervals()); diff != "" {
		t.Errorf("pages written mismatch (-want +got):\n%s", diff)
	}
}

func TestSectorBoundary(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.NumBlocks = 2
	b.TargetAddr = layout.FlashBase + layout.SectorSize - layout.PageSize
	f.ok(b)
	require.Equal(t, []ivset.Interval{{Start: 0, End: 1}}, f.s.SectorsErased.Intervals())

	b.BlockNo = 1
	b.TargetAddr += layout.PageSize
	f.ok(b)
	require.Equal(t, []ivset.Interval{{Start: 0, End: 2}}, f.s.SectorsErased.Intervals())
}

func TestRefusedBySink(t *testing.T) {
	f := newFixture(t)
	f.result = false
	b := validBlock()
	require.False(t, f.s.Process(&b))
	require.EqualValues(t, 0, f.accepted)
	require.EqualValues(t, 0, f.s.NumAccepted)
	var re *RejectError
	require.True(t, errors.As(f.s.Err(), &re))
	require.Equal(t, Refused, re.Reason)
}

func TestSinkFailure(t *testing.T) {
	cause := errors.New("flash: program failed")
	s := New(&layout, SinkFunc(func(s *Session, b *uf2.Block) bool {
		s.Fail(b, cause)
		return false
	}))
	b := validBlock()
	require.False(t, s.Process(&b))
	require.ErrorIs(t, s.Err(), cause)
}

func TestRestart(t *testing.T) {
	f := newFixture(t)
	b := validBlock()
	b.NumBlocks = 2
	b.TargetAddr = layout.VectorTableAddr()
	f.ok(b)
	b.BlockNo = 1
	b.TargetAddr = layout.FlashBase + 3*layout.SectorSize
	f.ok(b)
	f.s.IsDifferent = true
	f.accepted = -1

	var second []uint32
	f.s.Restart(SinkFunc(func(s *Session, b *uf2.Block) bool {
		second = append(second, b.BlockNo)
		return true
	}))
	require.Zero(t, f.s.NumAccepted)
	require.Zero(t, f.s.NumBlocks)
	require.Zero(t, f.s.PagesWritten.Len())
	require.Equal(t, []ivset.Interval{{Start: 0, End: 1}, {Start: 3, End: 4}}, f.s.SectorsErased.Intervals())
	require.True(t, f.s.HasVectorTable)
	require.True(t, f.s.IsDifferent)

	b.BlockNo = 0
	b.TargetAddr = layout.VectorTableAddr()
	require.True(t, f.s.Process(&b))
	b.BlockNo = 1
	b.TargetAddr = layout.FlashBase + 3*layout.SectorSize
	require.True(t, f.s.Process(&b))
	require.Equal(t, []uint32{0, 1}, second)
	require.Equal(t, -1, int(f.accepted))
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	f.ok(validBlock())
	f.s.Release()
	require.Nil(t, f.s.Layout)
	require.Zero(t, f.s.PagesWritten.Len())
	require.Zero(t, f.s.SectorsErased.Cap())
}

func TestReasonString(t *testing.T) {
	require.Equal(t, "page already written", Duplicate.String())
	require.Equal(t, "Reason(200)", Reason(200).String())
	err := &RejectError{BlockNo: 4, Addr: 0x1000_0100, Reason: Sequence}
	require.Equal(t, "block 4 (addr 0x10000100): unexpected block number", err.Error())
}
