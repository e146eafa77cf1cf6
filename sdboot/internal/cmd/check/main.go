// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package check

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/embeddedgo/sdboot/sdboot/internal/config"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/transport"
	"github.com/embeddedgo/sdboot/sdboot/internal/update"
	"github.com/embeddedgo/sdboot/sdboot/internal/util"
)

const Descr = "validate a UF2 file and print what the bootloader would do"

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] UF2\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	conf := fs.String("config", "", "board configuration `file` (TOML)")
	image := fs.String("flash", "", "compare with the flash image `file` instead of the erased flash")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	cfg, err := config.LoadOrDefault(*conf)
	util.FatalErr("config", err)
	l := &cfg.Board

	var dev flash.Device = flash.NewMem(l)
	if *image != "" {
		f, err := flash.OpenFile(*image, l)
		util.FatalErr("", err)
		defer f.Close()
		dev = f
	}

	mc := cfg.Media
	mc.Dir, mc.Firmware = filepath.Split(fs.Arg(0))
	if mc.Dir == "" {
		mc.Dir = "."
	}
	mc.UseCardDetect = false
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	vol := transport.New(mc, nil, log)
	if !vol.Exists() {
		util.Fatal("%s: no such file or empty", fs.Arg(0))
	}

	s, err := update.New(l, dev, vol, update.WithLogger(log)).Validate()
	util.FatalErr("invalid UF2", err)
	defer s.Release()

	fmt.Printf("blocks:  %d\n", s.NumBlocks)
	fmt.Printf("pages:   %d\n", s.PagesWritten.Len())
	for iv := range s.SectorsErased.All() {
		fmt.Printf(
			"erase:   %#08x-%#08x (%d sectors)\n",
			l.FlashBase+iv.Start*l.SectorSize, l.FlashBase+iv.End*l.SectorSize, iv.Len(),
		)
	}
	if s.IsDifferent {
		fmt.Println("action:  program")
	} else {
		fmt.Println("action:  skip (flash content matches)")
	}
}
