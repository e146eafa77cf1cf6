// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package boot implements the main loop of the stage 3 bootloader.
//
// The firmware is started through a watchdog reset so it finds all cores and
// peripherals in their reset state. Before the reset the bootloader leaves a
// mark in the watchdog scratch registers. After the reset it checks the mark
// and jumps to the firmware vector table without touching anything else.
package boot

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/diag"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/update"
	"github.com/embeddedgo/sdboot/sdboot/internal/vtable"
)

// Media is the removable media with the firmware image.
type Media interface {
	update.Media

	// Exists reports whether a non-empty image is present.
	Exists() bool
}

// Watchdog is the watchdog used to reset the device before the firmware
// starts.
type Watchdog interface {
	// CausedReboot reports whether the last reset was the firmware handoff.
	CausedReboot() bool

	// ClearScratch removes the handoff mark so the next ordinary reset is
	// not mistaken for the handoff.
	ClearScratch()

	// Enable arms the watchdog to reset the device immediately and leaves
	// the handoff mark.
	Enable()
}

// Launcher starts the firmware.
type Launcher interface {
	// Launch loads the stack pointer and jumps to the reset handler stored in
	// the vector table at addr.
	Launch(addr uint32)
}

// Reporter signals the diagnostic codes. Fatal must not return on a real
// device.
type Reporter interface {
	update.Signaler
	Fatal(c diag.Code)
}

// Outcome tells how Run finished.
type Outcome uint8

const (
	Launched Outcome = iota + 1 // the firmware was started
	Handoff                     // the watchdog was armed to start the firmware
)

var errNoFirmware = errors.New("no firmware")

// Loader is the bootloader.
type Loader struct {
	Layout   *board.Layout
	Flash    flash.Device
	Media    Media
	Watchdog Watchdog
	Launcher Launcher
	Diag     Reporter
	LED      diag.LED                          // optional
	Log      logrus.FieldLogger                // optional
	Poll     backoff.BackOff                   // delays between checks for an image
	Progress func(update.Pass, uint32, uint32) // optional
}

func (ld *Loader) log() logrus.FieldLogger {
	if ld.Log == nil {
		return logrus.StandardLogger()
	}
	return ld.Log
}

// FirmwareValid reports whether the flash contains a valid vector table.
func (ld *Loader) FirmwareValid() bool {
	vt, err := flash.ReadPage(ld.Flash, ld.Layout, ld.Layout.VectorTableOffset)
	if err != nil {
		ld.log().WithError(err).Warn("cannot read vector table")
		return false
	}
	return vtable.Valid(ld.Layout, vt[:ld.Layout.VectorTableSize])
}

func (ld *Loader) fatal(c diag.Code, err error) error {
	ld.Diag.Fatal(c)
	return &update.FatalError{Code: c, Err: err}
}

// Run executes the bootloader from the reset. It returns after the firmware
// was launched or the watchdog was armed, which on a real device never
// happens. A non-nil error means the device halted or ctx was cancelled.
func (ld *Loader) Run(ctx context.Context) (Outcome, error) {
	if ld.Watchdog.CausedReboot() {
		ld.Watchdog.ClearScratch()
		if !ld.FirmwareValid() {
			return 0, ld.fatal(diag.WatchdogWithoutFirmware, errNoFirmware)
		}
		ld.Diag.Signal(diag.EnteringFirmware)
		ld.Launcher.Launch(ld.Layout.VectorTableAddr())
		return Launched, nil
	}

	op := func() error {
		if ld.Media.Exists() {
			if err := ld.update(); err != nil {
				return backoff.Permanent(err)
			}
		}
		if ld.FirmwareValid() {
			ld.Watchdog.Enable()
			return nil
		}
		ld.Diag.Signal(diag.NoFirmware)
		return errNoFirmware
	}
	poll := ld.Poll
	if poll == nil {
		poll = backoff.NewConstantBackOff(0)
	}
	poll.Reset()
	if err := backoff.Retry(op, backoff.WithContext(poll, ctx)); err != nil {
		if cerr := ctx.Err(); cerr != nil && errors.Is(err, errNoFirmware) {
			return 0, cerr
		}
		return 0, err
	}
	return Handoff, nil
}

func (ld *Loader) update() error {
	opts := []update.Option{
		update.WithDiag(ld.Diag),
		update.WithLogger(ld.log()),
	}
	if ld.LED != nil {
		opts = append(opts, update.WithLED(ld.LED))
	}
	if ld.Progress != nil {
		opts = append(opts, update.WithProgress(ld.Progress))
	}
	res, err := update.New(ld.Layout, ld.Flash, ld.Media, opts...).Run()
	if err != nil {
		var fe *update.FatalError
		if errors.As(err, &fe) {
			ld.Diag.Fatal(fe.Code)
		}
		return err
	}
	ld.log().WithFields(logrus.Fields{
		"state":  res.State,
		"blocks": res.Blocks,
	}).Info("update finished")
	return nil
}
