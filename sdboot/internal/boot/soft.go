// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"github.com/sirupsen/logrus"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/vtable"
)

// SoftWatchdog emulates the handoff mark kept in the watchdog scratch
// registers across the reset.
type SoftWatchdog struct {
	scratch bool
}

func (w *SoftWatchdog) CausedReboot() bool { return w.scratch }
func (w *SoftWatchdog) ClearScratch()      { w.scratch = false }
func (w *SoftWatchdog) Enable()            { w.scratch = true }

// LogLauncher logs the firmware entry point instead of jumping to it.
type LogLauncher struct {
	Layout *board.Layout
	Flash  flash.Device
	Log    logrus.FieldLogger

	Entry uint32 // reset handler of the last launched firmware
}

func (l *LogLauncher) Launch(addr uint32) {
	vt, err := flash.ReadPage(l.Flash, l.Layout, l.Layout.Offset(addr))
	if err != nil {
		l.Log.WithError(err).Error("launch")
		return
	}
	sp, pc := vtable.Entry(vt)
	l.Entry = pc
	l.Log.WithFields(logrus.Fields{
		"vtor": addr,
		"sp":   sp,
		"pc":   pc,
	}).Info("launch firmware")
}
