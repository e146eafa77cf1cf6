// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uf2

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/embeddedgo/sdboot/sdboot/internal/config"
	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
	"github.com/embeddedgo/sdboot/sdboot/internal/util"
)

const Descr = "convert an ELF, Intel HEX or binary file to the UF2 format"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\n  %s [OPTIONS] ELF|HEX [UF2]\n  %s [OPTIONS] -inc BIN:ADDR UF2\nOptions:\n",
			cmd, cmd,
		)
		fs.PrintDefaults()
	}
	conf := fs.String("config", "", "board configuration `file` (TOML)")
	inc := fs.String(
		"inc", "",
		"binary files to be included BIN1:ADDR1[,BIN2:ADDR2[,...]]",
	)
	family := fs.String(
		"family", "",
		"UF2 family ID or one of: "+strings.Join(uf2.FamilyNames(), ", "),
	)
	fs.Parse(args)
	if fs.NArg() > 2 || fs.NArg() == 0 && *inc == "" {
		fs.Usage()
		os.Exit(1)
	}
	cfg, err := config.LoadOrDefault(*conf)
	util.FatalErr("config", err)
	l := &cfg.Board
	if *family != "" {
		l.Family, err = uf2.ParseFamily(*family)
		util.FatalErr("", err)
	}

	var (
		sections util.Sections
		in, out  string
	)
	if *inc != "" && fs.NArg() == 1 {
		out = fs.Arg(0)
	} else {
		in, out = fs.Arg(0), util.OutFile(fs.Arg(0), fs.Arg(1), ".uf2")
		switch strings.ToLower(filepath.Ext(in)) {
		case ".hex", ".ihex":
			sections, err = util.ReadHex(in)
			util.FatalErr("readhex", err)
		default:
			sections, err = util.ReadELF(in)
			util.FatalErr("readelf", err)
		}
	}
	if *inc != "" {
		isec, err := util.ReadBins(*inc)
		util.FatalErr("readbins", err)
		sections = append(sections, isec...)
	}
	if len(sections) == 0 {
		util.Fatal("nothing to write")
	}
	sections.SortByPaddr()

	// Start at the page boundary.
	addr := uint32(sections[0].Paddr)
	if skip := addr % l.PageSize; skip != 0 {
		addr -= skip
		sections = append(sections, &util.Section{Paddr: uint64(addr), Data: make([]byte, skip)})
		for i := range sections[len(sections)-1].Data {
			sections[len(sections)-1].Data[i] = 0xff
		}
	}
	end := uint64(addr) + uint64(sections.Size())
	if addr < l.ProgBegin() || end > uint64(l.ProgEnd()) {
		util.Fatal("image %#x-%#x outside the program area %#x-%#x", addr, end, l.ProgBegin(), l.ProgEnd())
	}

	var flat bytes.Buffer
	_, err = sections.Flatten(&flat, 0xff)
	util.FatalErr("flatten", err)

	f, err := os.Create(out)
	util.FatalErr("", err)
	w := bufio.NewWriter(f)
	u := uf2.NewWriter(w, addr, uf2.FamilyIDPresent, l.Family, int(l.PageSize), flat.Len())
	_, err = u.Write(flat.Bytes())
	util.FatalErr("uf2", err)
	util.FatalErr("uf2", u.Flush())
	util.FatalErr("", w.Flush())
	util.FatalErr("", f.Close())
	fmt.Fprintf(os.Stderr, "%s: %d blocks at %#x\n", out, u.Blocks(), addr)
}
