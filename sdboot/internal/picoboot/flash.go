// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package picoboot

import (
	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
)

// Flash is the flash of a device in BOOTSEL mode seen as a flash.Device.
type Flash struct {
	c *Conn
	l *board.Layout
}

// NewFlash takes exclusive access to the device and prepares its flash for
// erasing and programming.
func NewFlash(c *Conn, l *board.Layout) (*Flash, error) {
	if err := c.SetExclusiveAccess(Exclusive); err != nil {
		return nil, err
	}
	if err := c.ExitXIP(); err != nil {
		return nil, err
	}
	return &Flash{c, l}, nil
}

func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(f.l.FlashSize) {
		return 0, &flash.Error{Op: "read", Off: uint32(off), Len: len(p), Err: flash.ErrRange}
	}
	if err := f.c.ReadMem(f.l.FlashBase+uint32(off), p); err != nil {
		return 0, &flash.Error{Op: "read", Off: uint32(off), Len: len(p), Err: err}
	}
	return len(p), nil
}

func (f *Flash) Erase(off, n uint32) error {
	err := flash.CheckErase(f.l, off, n)
	if err == nil {
		err = f.c.FlashErase(f.l.FlashBase+off, n)
	}
	if err != nil {
		return &flash.Error{Op: "erase", Off: off, Len: int(n), Err: err}
	}
	return nil
}

func (f *Flash) Program(off uint32, data []byte) error {
	err := flash.CheckProgram(f.l, off, data)
	if err == nil {
		err = f.c.WriteMem(f.l.FlashBase+off, data)
	}
	if err != nil {
		return &flash.Error{Op: "program", Off: off, Len: len(data), Err: err}
	}
	return nil
}

// Close leaves the flash in the XIP mode and reboots the device.
func (f *Flash) Close() error {
	if err := f.c.EnterXIP(); err != nil {
		return err
	}
	return f.c.Reboot(0, f.l.SRAMEnd, 100)
}
