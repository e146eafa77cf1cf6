// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// SoftLED is an LED emulated in memory. If Log is set every state change is
// logged at the trace level.
type SoftLED struct {
	Log     logrus.FieldLogger
	on      atomic.Bool
	changes atomic.Int64
}

func (l *SoftLED) set(on bool) {
	if l.on.Swap(on) == on {
		return
	}
	l.changes.Add(1)
	if l.Log != nil {
		l.Log.WithField("on", on).Trace("led")
	}
}

func (l *SoftLED) On()        { l.set(true) }
func (l *SoftLED) Off()       { l.set(false) }
func (l *SoftLED) Toggle()    { l.set(!l.on.Load()) }
func (l *SoftLED) IsOn() bool { return l.on.Load() }

// Changes returns the number of state changes so far.
func (l *SoftLED) Changes() int { return int(l.changes.Load()) }
