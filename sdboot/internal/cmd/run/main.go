// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package run

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/embeddedgo/sdboot/sdboot/internal/boot"
	"github.com/embeddedgo/sdboot/sdboot/internal/config"
	"github.com/embeddedgo/sdboot/sdboot/internal/diag"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/picoboot"
	"github.com/embeddedgo/sdboot/sdboot/internal/transport"
	"github.com/embeddedgo/sdboot/sdboot/internal/update"
	"github.com/embeddedgo/sdboot/sdboot/internal/util"
)

const Descr = "run the bootloader on a flash image file or a BOOTSEL device"

type device interface {
	flash.Device
	io.Closer
}

func Main(cmd string, args []string) {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [OPTIONS] MEDIA_DIR\nOptions:\n", cmd)
		fs.PrintDefaults()
	}
	conf := fs.String("config", "", "board configuration `file` (TOML)")
	image := fs.String("flash", "flash.bin", "flash image `file`, created if missing")
	usb := fs.String("usb", "", "program the device in BOOTSEL mode at `BUS:DEV` (- for any)")
	progress := fs.Bool("p", false, "show the progress of the update")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)
	if fs.NArg() > 1 {
		fs.Usage()
		os.Exit(1)
	}
	cfg, err := config.LoadOrDefault(*conf)
	util.FatalErr("config", err)
	if fs.NArg() == 1 {
		cfg.Media.Dir = fs.Arg(0)
	}
	if cfg.Media.Dir == "" {
		util.Fatal("no media directory")
	}

	log := logrus.New()
	if cfg.Diag.UseUART {
		log.SetFormatter(diag.UARTFormatter{})
	}
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	var dev device
	if *usb != "" {
		addr := *usb
		if addr == "-" {
			addr = ""
		}
		conn, err := picoboot.Connect(addr)
		util.FatalErr("", err)
		defer conn.Close()
		dev, err = picoboot.NewFlash(conn, &cfg.Board)
		util.FatalErr("", err)
	} else {
		dev, err = flash.OpenFile(*image, &cfg.Board)
		util.FatalErr("", err)
	}

	opts := []diag.Option{
		diag.WithLogger(log),
		diag.WithDot(cfg.Diag.Dot()),
		diag.WithHalt(func(c diag.Code) {
			dev.Close()
			util.Fatal("halted: %v", c)
		}),
	}
	if cfg.Diag.UseLED {
		opts = append(opts, diag.WithLED(&diag.SoftLED{Log: log}))
	}
	rep := diag.New(opts...)
	led := rep.LED()
	ld := &boot.Loader{
		Layout:   &cfg.Board,
		Flash:    dev,
		Media:    transport.New(cfg.Media, led, log),
		Watchdog: new(boot.SoftWatchdog),
		Launcher: &boot.LogLauncher{Layout: &cfg.Board, Flash: dev, Log: log},
		Diag:     rep,
		LED:      led,
		Log:      log,
		Poll:     backoff.NewConstantBackOff(cfg.Boot.Poll()),
	}
	if *progress {
		ld.Progress = func(p update.Pass, n, total uint32) {
			util.Progress(fmt.Sprintf("pass %d ", p), int(n), int(total), 1, "blocks")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		for {
			out, err := ld.Run(ctx)
			if err != nil {
				return err
			}
			if out == boot.Launched {
				return nil
			}
			log.Debug("watchdog reset")
		}
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			return fmt.Errorf("%v", s)
		case <-ctx.Done():
			return nil
		}
	})
	err = g.Wait()
	util.FatalErr("", dev.Close())
	util.FatalErr("run", err)
}
