// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package util

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
)

type Section struct {
	Paddr uint64 // phisical location of the section in the Flash/ROM
	Data  []byte // section data
}

type Sections []*Section

// ReadELF reads the loadable sections of the program and returns them as
// a slice. The order of the returned sections is unspecified.
func ReadELF(name string) (Sections, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ss := make(Sections, 0, 16)
	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		paddr := ^uint64(0)
		for _, p := range f.Progs {
			if p.Type != elf.PT_LOAD {
				continue
			}
			if p.Off <= s.Offset && s.Offset < p.Off+p.Filesz {
				paddr = p.Paddr + s.Offset - p.Off
				break
			}
		}
		if paddr == ^uint64(0) {
			Warn("readelf: section '%s' is not in a loadable segment", s.Name)
			continue
		}
		ss = append(ss, &Section{paddr, data})
	}
	return ss, nil
}

// ReadHex reads the data segments of an Intel HEX file.
func ReadHex(name string) (Sections, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}
	var ss Sections
	for _, seg := range mem.GetDataSegments() {
		ss = append(ss, &Section{uint64(seg.Address), seg.Data})
	}
	return ss, nil
}

// ReadBins reads binary files acording to the description
// BIN1:ADDR1[,BIN2:ADDR2[,...]] and returns them as a slice of sections.
func ReadBins(descr string) (Sections, error) {
	bins := strings.Split(descr, ",")
	ss := make(Sections, len(bins))
	for k, ba := range bins {
		i := strings.LastIndexByte(ba, ':')
		if i <= 0 {
			return nil, fmt.Errorf("bad '%s' in the -inc option", ba)
		}
		bin, addr := ba[:i], ba[i+1:]
		paddr, err := ParseUint32(addr)
		if err != nil {
			return nil, fmt.Errorf("bad address in '%s': %s", addr, err)
		}
		data, err := os.ReadFile(bin)
		if err != nil {
			return nil, err
		}
		ss[k] = &Section{uint64(paddr), data}
	}
	return ss, nil
}

// SortByPaddr sorts sections according to the Paddr field.
func (ss Sections) SortByPaddr() {
	sort.Slice(
		ss,
		func(i, j int) bool {
			return ss[i].Paddr < ss[j].Paddr
		},
	)
}

// Size returns the number of bytes between the beginning of the first
// section and the end of the last one.
func (ss Sections) Size() int {
	if len(ss) == 0 {
		return 0
	}
	lo, hi := ^uint64(0), uint64(0)
	for _, s := range ss {
		lo = min(lo, s.Paddr)
		hi = max(hi, s.Paddr+uint64(len(s.Data)))
	}
	return int(hi - lo)
}

// Flatten flattens sections by writting their data to the provided io.Writer
// according to the Paddr field (before writting the sections are sorted using
// SortPaddr method). The gaps between sections are filled using the pad byte.
func (ss Sections) Flatten(w io.Writer, pad byte) (n int, err error) {
	if len(ss) == 0 {
		return
	}
	ss.SortByPaddr()
	pa := ss[0].Paddr
	var padCache []byte
	for i, s := range ss {
		if s.Paddr < pa {
			err = errors.New("flatten: overlaping sections")
			return
		}
		if m := int(s.Paddr - pa); m != 0 && i != 0 {
			m, err = w.Write(PadBytes(&padCache, m, pad))
			n += m
			pa += uint64(m)
			if err != nil {
				return
			}
		}
		var m int
		m, err = w.Write(s.Data)
		n += m
		pa += uint64(m)
		if err != nil {
			return
		}
	}
	return
}

// PadBytes returns the slice containing n bytes equal b. If cache is not nil
// the returned slice is kept there for the subsequent calls.
func PadBytes(cache *[]byte, n int, b byte) []byte {
	if cache == nil {
		cache = new([]byte)
	}
	if len(*cache) < n || len(*cache) != 0 && (*cache)[0] != b {
		*cache = make([]byte, n)
		for i := range *cache {
			(*cache)[i] = b
		}
	}
	return (*cache)[:n]
}
