// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package board describes the memory layout of the target microcontroller as
// seen by the stage 3 bootloader.
package board

import (
	"errors"
	"fmt"

	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
)

// Layout describes the flash and SRAM geometry. All addresses are absolute
// addresses in the target memory map.
type Layout struct {
	FlashBase         uint32 `toml:"flash_base"`          // XIP base of the flash
	FlashSize         uint32 `toml:"flash_size"`          // total flash size in bytes
	BootloaderSize    uint32 `toml:"bootloader_size"`     // reserved at the top of the flash
	PageSize          uint32 `toml:"page_size"`           // smallest programmable unit
	SectorSize        uint32 `toml:"sector_size"`         // smallest erasable unit
	SRAMBase          uint32 `toml:"sram_base"`           // first SRAM address
	SRAMEnd           uint32 `toml:"sram_end"`            // one past the last SRAM address
	VectorTableOffset uint32 `toml:"vector_table_offset"` // vector table offset from FlashBase
	VectorTableSize   uint32 `toml:"vector_table_size"`   // vector table size in bytes
	Family            uint32 `toml:"family"`              // accepted UF2 family ID
}

// Pico is the layout of the Raspberry Pi Pico (RP2040, 2 MiB flash) with
// 64 KiB reserved for the bootloader.
var Pico = Layout{
	FlashBase:         0x1000_0000,
	FlashSize:         2 << 20,
	BootloaderSize:    64 << 10,
	PageSize:          256,
	SectorSize:        4096,
	SRAMBase:          0x2000_0000,
	SRAMEnd:           0x2004_2000,
	VectorTableOffset: 0x100,
	VectorTableSize:   0xc0,
	Family:            0xe48bff56,
}

// ProgBegin returns the first address of the program area.
func (l *Layout) ProgBegin() uint32 { return l.FlashBase }

// ProgEnd returns the address one past the end of the program area (the
// beginning of the bootloader itself).
func (l *Layout) ProgEnd() uint32 { return l.FlashBase + l.FlashSize - l.BootloaderSize }

// FlashEnd returns the address one past the end of the flash.
func (l *Layout) FlashEnd() uint32 { return l.FlashBase + l.FlashSize }

// VectorTableAddr returns the address of the application vector table.
func (l *Layout) VectorTableAddr() uint32 { return l.FlashBase + l.VectorTableOffset }

// InFlash reports whether addr is a valid flash address or the address just
// past the end of the flash.
func (l *Layout) InFlash(addr uint32) bool {
	return l.FlashBase <= addr && addr-l.FlashBase <= l.FlashSize
}

func (l *Layout) mustInFlash(addr uint32) {
	if !l.InFlash(addr) {
		panic(fmt.Sprintf("board: address %#x outside the flash", addr))
	}
}

// Offset returns the offset of addr from the beginning of the flash.
func (l *Layout) Offset(addr uint32) uint32 {
	l.mustInFlash(addr)
	return addr - l.FlashBase
}

// Page returns the index of the flash page that contains addr.
func (l *Layout) Page(addr uint32) uint32 {
	return l.Offset(addr) / l.PageSize
}

// Sector returns the index of the flash sector that contains addr.
func (l *Layout) Sector(addr uint32) uint32 {
	return l.Offset(addr) / l.SectorSize
}

func pow2(x uint32) bool { return x != 0 && x&(x-1) == 0 }

// Validate checks the consistency of the layout.
func (l *Layout) Validate() error {
	switch {
	case !pow2(l.PageSize):
		return fmt.Errorf("page size %d is not a power of 2", l.PageSize)
	case l.PageSize > uf2.DataSize:
		// A page must fit in the payload of a single UF2 block.
		return fmt.Errorf("page size %d exceeds the UF2 block payload (%d)", l.PageSize, uf2.DataSize)
	case !pow2(l.SectorSize) || l.SectorSize <= l.PageSize:
		return fmt.Errorf("sector size %d must be a power of 2 greater than the page size", l.SectorSize)
	case l.FlashSize == 0 || l.FlashSize%l.SectorSize != 0:
		return fmt.Errorf("flash size %#x is not a multiple of the sector size", l.FlashSize)
	case uint64(l.FlashBase)+uint64(l.FlashSize) > 1<<32:
		return errors.New("flash does not fit in the 32-bit address space")
	case l.BootloaderSize%l.SectorSize != 0 || l.BootloaderSize >= l.FlashSize:
		return fmt.Errorf("bad bootloader size %#x", l.BootloaderSize)
	case l.SRAMBase >= l.SRAMEnd:
		return errors.New("empty SRAM range")
	case l.VectorTableOffset%l.PageSize != 0 || l.VectorTableOffset < l.PageSize:
		// Page 0 holds the second stage loader.
		return fmt.Errorf("vector table offset %#x must be page aligned and past page 0", l.VectorTableOffset)
	case l.VectorTableOffset >= l.SectorSize:
		return fmt.Errorf("vector table offset %#x must be in sector 0", l.VectorTableOffset)
	case l.VectorTableSize < 8 || l.VectorTableSize > l.PageSize:
		return fmt.Errorf("bad vector table size %#x", l.VectorTableSize)
	}
	return nil
}
