// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/util"
)

var _ Device = &File{}

// File emulates the flash using an image file.
type File struct {
	f   *os.File
	l   *board.Layout
	buf []byte
}

// OpenFile opens the flash image. A missing image is created erased, a short
// one is extended with erased bytes.
func OpenFile(name string, l *board.Layout) (*File, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.WithStack(err)
	}
	if size := fi.Size(); size < int64(l.FlashSize) {
		pad := util.PadBytes(nil, int(int64(l.FlashSize)-size), Erased)
		if _, err := f.WriteAt(pad, size); err != nil {
			f.Close()
			return nil, errors.WithStack(err)
		}
	}
	return &File{f: f, l: l, buf: make([]byte, l.SectorSize)}, nil
}

func (fd *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := fd.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, errors.WithStack(err)
	}
	return n, err
}

func (fd *File) Erase(off, n uint32) (err error) {
	defer wrapErr("erase", off, int(n), &err)
	if err = CheckErase(fd.l, off, n); err != nil {
		return
	}
	fill(fd.buf, Erased)
	for end := off + n; off < end; off += fd.l.SectorSize {
		if _, err = fd.f.WriteAt(fd.buf, int64(off)); err != nil {
			return errors.WithStack(err)
		}
	}
	return
}

func (fd *File) Program(off uint32, data []byte) (err error) {
	defer wrapErr("program", off, len(data), &err)
	if err = CheckProgram(fd.l, off, data); err != nil {
		return
	}
	cur := make([]byte, len(data))
	if _, err = fd.f.ReadAt(cur, int64(off)); err != nil {
		return errors.WithStack(err)
	}
	for i, b := range data {
		cur[i] &= b
	}
	if _, err = fd.f.WriteAt(cur, int64(off)); err != nil {
		return errors.WithStack(err)
	}
	return
}

// Sync commits the image to the disk.
func (fd *File) Sync() error {
	return errors.WithStack(fd.f.Sync())
}

func (fd *File) Close() error {
	return errors.WithStack(fd.f.Close())
}
