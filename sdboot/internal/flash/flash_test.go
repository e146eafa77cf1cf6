// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
)

var layout = board.Layout{
	FlashBase:         0x1000_0000,
	FlashSize:         64 << 10,
	BootloaderSize:    16 << 10,
	PageSize:          256,
	SectorSize:        4096,
	SRAMBase:          0x2000_0000,
	SRAMEnd:           0x2004_2000,
	VectorTableOffset: 0x100,
	VectorTableSize:   0xc0,
	Family:            0xe48bff56,
}

func page(b byte) []byte {
	return bytes.Repeat([]byte{b}, int(layout.PageSize))
}

// testDevice runs the same checks on every Device implementation.
func testDevice(t *testing.T, d Device) {
	buf, err := ReadPage(d, &layout, 0)
	require.NoError(t, err)
	require.Equal(t, page(Erased), buf)

	require.NoError(t, d.Program(0x100, page(0x0f)))
	require.NoError(t, d.Program(0x100, page(0xf5)))
	buf, err = ReadPage(d, &layout, 0x100)
	require.NoError(t, err)
	require.Equal(t, page(0x05), buf, "programming must only clear bits")

	require.NoError(t, d.Erase(0, layout.SectorSize))
	buf, err = ReadPage(d, &layout, 0x100)
	require.NoError(t, err)
	require.Equal(t, page(Erased), buf)

	last := layout.FlashSize - layout.PageSize
	require.NoError(t, d.Program(last, page(0)))
	buf, err = ReadPage(d, &layout, last)
	require.NoError(t, err)
	require.Equal(t, page(0), buf)

	for _, err := range []error{
		d.Erase(1, layout.SectorSize),
		d.Erase(0, layout.PageSize),
		d.Program(1, page(0)),
		d.Program(0, page(0)[:10]),
	} {
		require.ErrorIs(t, err, ErrAlign)
		var fe *Error
		require.True(t, errors.As(err, &fe))
	}
	require.ErrorIs(t, d.Erase(layout.FlashSize, layout.SectorSize), ErrRange)
	require.ErrorIs(t, d.Program(layout.FlashSize, page(0)), ErrRange)

	_, err = d.ReadAt(make([]byte, 10), int64(layout.FlashSize)-5)
	require.ErrorIs(t, err, io.EOF)
}

func TestMem(t *testing.T) {
	m := NewMem(&layout)
	testDevice(t, m)
	require.Len(t, m.Bytes(), int(layout.FlashSize))
}

func TestFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "flash.bin")
	f, err := OpenFile(name, &layout)
	require.NoError(t, err)
	testDevice(t, f)
	require.NoError(t, f.Program(0x200, page(0x42)))
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	img, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Len(t, img, int(layout.FlashSize))
	require.Equal(t, page(0x42), img[0x200:0x300])

	// Reopening keeps the content.
	f, err = OpenFile(name, &layout)
	require.NoError(t, err)
	defer f.Close()
	buf, err := ReadPage(f, &layout, 0x200)
	require.NoError(t, err)
	require.Equal(t, page(0x42), buf)
}

func TestFileExtendsShortImage(t *testing.T) {
	name := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(name, page(0), 0o644))
	f, err := OpenFile(name, &layout)
	require.NoError(t, err)
	defer f.Close()
	buf, err := ReadPage(f, &layout, 0)
	require.NoError(t, err)
	require.Equal(t, page(0), buf)
	buf, err = ReadPage(f, &layout, layout.PageSize)
	require.NoError(t, err)
	require.Equal(t, page(Erased), buf)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{Device: NewMem(&layout)}
	require.NoError(t, r.Erase(0, 2*layout.SectorSize))
	require.NoError(t, r.Program(0x300, page(1)))
	require.Error(t, r.Program(0x301, page(1)))
	want := []Op{
		{OpErase, 0, 2 * layout.SectorSize},
		{OpProgram, 0x300, layout.PageSize},
	}
	if diff := cmp.Diff(want, r.Ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "program 0x300+0x100", r.Ops[1].String())
}
