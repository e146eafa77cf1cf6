// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flash defines the interface to the flash driver and provides NOR
// flash emulations backed by RAM and by an image file.
package flash

import (
	"errors"
	"fmt"
	"io"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
)

// Erased is the value of an erased flash byte.
const Erased = 0xff

// Device is a flash driver. Offsets are relative to the beginning of the
// flash. Every call is atomic with respect to interrupts but nothing is
// guaranteed across calls.
type Device interface {
	io.ReaderAt

	// Erase erases n bytes starting at off. Both must be sector aligned.
	Erase(off, n uint32) error

	// Program writes data at off. Both must be page aligned. Like the real
	// NOR flash, programming can only clear bits.
	Program(off uint32, data []byte) error
}

// Error records a failed flash operation.
type Error struct {
	Op  string
	Off uint32
	Len int
	Err error
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Error() string {
	return fmt.Sprintf("flash: %s %#x+%#x: %v", e.Op, e.Off, e.Len, e.Err)
}

var (
	ErrAlign = errors.New("unaligned access")
	ErrRange = errors.New("out of range")
)

func wrapErr(op string, off uint32, n int, err *error) {
	if *err != nil {
		*err = &Error{op, off, n, *err}
	}
}

func checkRange(l *board.Layout, off uint32, n int, align uint32) error {
	if off%align != 0 || uint32(n)%align != 0 {
		return ErrAlign
	}
	if uint64(off)+uint64(n) > uint64(l.FlashSize) {
		return ErrRange
	}
	return nil
}

// CheckErase returns ErrAlign or ErrRange if Erase(off, n) is not allowed.
func CheckErase(l *board.Layout, off, n uint32) error {
	return checkRange(l, off, int(n), l.SectorSize)
}

// CheckProgram returns ErrAlign or ErrRange if Program(off, data) is not
// allowed.
func CheckProgram(l *board.Layout, off uint32, data []byte) error {
	return checkRange(l, off, len(data), l.PageSize)
}

// ReadPage reads the page at off.
func ReadPage(d Device, l *board.Layout, off uint32) ([]byte, error) {
	buf := make([]byte, l.PageSize)
	if _, err := d.ReadAt(buf, int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}
