// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hex

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/marcinbor85/gohex"

	"github.com/embeddedgo/sdboot/sdboot/internal/config"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/util"
)

const Descr = "dump the programmed part of a flash image file in the Intel HEX format"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] FLASH [HEX]\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	conf := fs.String("config", "", "board configuration `file` (TOML)")
	all := fs.Bool("a", false, "dump also the bootloader area")
	fs.Parse(args)
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		os.Exit(1)
	}
	cfg, err := config.LoadOrDefault(*conf)
	util.FatalErr("config", err)
	l := &cfg.Board
	if _, err := os.Stat(fs.Arg(0)); err != nil {
		util.FatalErr("", err)
	}
	f, err := flash.OpenFile(fs.Arg(0), l)
	util.FatalErr("", err)
	defer f.Close()

	size := l.ProgEnd() - l.FlashBase
	if *all {
		size = l.FlashSize
	}
	mem := gohex.NewMemory()
	erased := util.PadBytes(nil, int(l.PageSize), flash.Erased)
	for off := uint32(0); off < size; off += l.PageSize {
		page, err := flash.ReadPage(f, l, off)
		util.FatalErr("read", err)
		if bytes.Equal(page, erased) {
			continue
		}
		util.FatalErr("", mem.AddBinary(l.FlashBase+off, page))
	}
	w := os.Stdout
	if out := fs.Arg(1); out != "" {
		of, err := os.Create(out)
		util.FatalErr("", err)
		defer of.Close()
		w = of
	}
	err = mem.DumpIntelHex(w, 16)
	util.FatalErr("dumpintelhex", err)
}
