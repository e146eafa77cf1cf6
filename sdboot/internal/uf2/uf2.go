// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uf2 implements reading and writing of UF2 firmware images.
package uf2

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

const (
	BlockSize = 512 // size of the UF2 block
	DataSize  = 476 // size of the data area of the block
)

const (
	MagicStart0 = 0x0a324655
	MagicStart1 = 0x9e5d5157
	MagicEnd    = 0x0ab16f30
)

// Flags
const (
	NotMainFlash         = 0x00000001
	FileContainer        = 0x00001000
	FamilyIDPresent      = 0x00002000
	MD5ChecksumPresent   = 0x00004000
	ExtensionTagsPresent = 0x00008000
)

// Families maps the known family names to the family IDs.
var Families = map[string]uint32{
	"rp2040":        0xe48bff56,
	"absolute":      0xe48bff57,
	"data":          0xe48bff58,
	"rp2350_arm_s":  0xe48bff59,
	"rp2350_riscv":  0xe48bff5a,
	"rp2350_arm_ns": 0xe48bff5b,
}

// FamilyNames returns the sorted list of the known family names.
func FamilyNames() []string {
	return slices.Sorted(maps.Keys(Families))
}

// ParseFamily accepts a known family name or a 32-bit number.
func ParseFamily(s string) (uint32, error) {
	if id, ok := Families[s]; ok {
		return id, nil
	}
	u, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("uf2: bad family ID: %q", s)
	}
	return uint32(u), nil
}

// Block is the 512-byte UF2 block as stored in the file (little-endian).
type Block struct {
	MagicStart0 uint32
	MagicStart1 uint32
	Flags       uint32
	TargetAddr  uint32 // address where the payload should be written
	PayloadSize uint32 // number of used bytes in Data
	BlockNo     uint32 // sequential block number, starts at 0
	NumBlocks   uint32 // total number of blocks in the file
	FileSize    uint32 // family ID if the FamilyIDPresent flag is set
	Data        [DataSize]byte
	MagicEnd    uint32
}

// HasMagic reports whether all three magic numbers are correct.
func (b *Block) HasMagic() bool {
	return b.MagicStart0 == MagicStart0 &&
		b.MagicStart1 == MagicStart1 &&
		b.MagicEnd == MagicEnd
}

// FamilyID returns the family ID and true if the block carries one.
func (b *Block) FamilyID() (uint32, bool) {
	if b.Flags&FamilyIDPresent == 0 {
		return 0, false
	}
	return b.FileSize, true
}

// Payload returns the used part of the data area.
func (b *Block) Payload() []byte {
	return b.Data[:min(b.PayloadSize, DataSize)]
}

func (b *Block) MarshalBinary() ([]byte, error) {
	return binary.Append(make([]byte, 0, BlockSize), binary.LittleEndian, b)
}

func (b *Block) UnmarshalBinary(data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("uf2: block size %d != %d", len(data), BlockSize)
	}
	_, err := binary.Decode(data, binary.LittleEndian, b)
	return err
}
