// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag reports the bootloader state using a Morse code blinking LED
// and a log stream.
package diag

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Code identifies a diagnostic message.
type Code uint8

const (
	EnteringFirmware        Code = iota // firmware is about to run
	WatchdogWithoutFirmware             // watchdog handoff but no valid firmware (fatal)
	NoFirmware                          // nothing to run, waiting for an image
	FlashFailed                         // flash operation failed during commit (fatal)
	InvalidUF2                          // image rejected by validation (fatal)
	DeleteFailed                        // cannot remove the consumed image
	SkippedProgramming                  // image equal to the flash content
	numCodes
)

type message struct {
	text    string
	fatal   bool
	pattern []uint8 // Morse code in dot units: 1 is a dot, 3 is a dash
}

var messages = [numCodes]message{
	EnteringFirmware:        {"Entering firmware", false, []uint8{1}},
	WatchdogWithoutFirmware: {"Watchdog bad firmware", true, []uint8{1, 3, 3}},
	NoFirmware:              {"No firmware", false, []uint8{3, 1}},
	FlashFailed:             {"Flash failed", true, []uint8{1, 1, 3, 1}},
	InvalidUF2:              {"Invalid UF2", true, []uint8{1, 1}},
	DeleteFailed:            {"Delete failed", false, []uint8{3, 1, 1}},
	SkippedProgramming:      {"Skipped programming", false, []uint8{3, 3, 3}},
}

func (c Code) msg() *message {
	if c >= numCodes {
		panic(fmt.Sprintf("diag: bad code %d", c))
	}
	return &messages[c]
}

// String returns the human readable message.
func (c Code) String() string {
	if c >= numCodes {
		return fmt.Sprintf("Code(%d)", c)
	}
	return messages[c].text
}

// Fatal reports whether the device must halt after signaling c.
func (c Code) Fatal() bool { return c.msg().fatal }

// Pattern returns the Morse pattern of c in dot units.
func (c Code) Pattern() []uint8 { return c.msg().pattern }

// LED is the status LED.
type LED interface {
	On()
	Off()
	Toggle()
	IsOn() bool
}

// Reporter signals diagnostic codes.
type Reporter struct {
	led   LED
	log   logrus.FieldLogger
	dot   time.Duration
	sleep func(time.Duration)
	halt  func(Code)
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLED enables blinking the Morse patterns on led.
func WithLED(led LED) Option { return func(r *Reporter) { r.led = led } }

// WithLogger sets the logger that receives every signaled code.
func WithLogger(log logrus.FieldLogger) Option { return func(r *Reporter) { r.log = log } }

// WithDot sets the duration of the Morse dot (default 100 ms).
func WithDot(d time.Duration) Option { return func(r *Reporter) { r.dot = d } }

// WithSleep replaces time.Sleep.
func WithSleep(sleep func(time.Duration)) Option { return func(r *Reporter) { r.sleep = sleep } }

// WithHalt sets the function called by Fatal after the code was signaled
// once. It must not return. By default the pattern is repeated forever.
func WithHalt(halt func(Code)) Option { return func(r *Reporter) { r.halt = halt } }

// New returns a Reporter. Without options it only logs to the standard
// logrus logger.
func New(opts ...Option) *Reporter {
	r := &Reporter{
		log:   logrus.StandardLogger(),
		dot:   100 * time.Millisecond,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LED returns the status LED or nil.
func (r *Reporter) LED() LED { return r.led }

// Signal reports a non-fatal code and returns.
func (r *Reporter) Signal(c Code) {
	if c.Fatal() {
		panic("diag: Signal called with fatal code " + c.String())
	}
	r.report(c)
}

// Fatal reports a fatal code and never returns.
func (r *Reporter) Fatal(c Code) {
	if !c.Fatal() {
		panic("diag: Fatal called with non-fatal code " + c.String())
	}
	r.report(c)
	if r.halt != nil {
		r.halt(c)
		panic("diag: halt returned")
	}
	for {
		r.blink(c.Pattern())
		if r.led == nil {
			// Nothing to show. Do not spin.
			r.sleep(time.Hour)
		}
	}
}

func (r *Reporter) report(c Code) {
	r.log.WithField("code", uint8(c)).Info(c.String())
	r.blink(c.Pattern())
}

func (r *Reporter) blink(pattern []uint8) {
	if r.led == nil {
		return
	}
	if r.led.IsOn() {
		r.led.Off()
		r.sleep(3 * r.dot)
	}
	for _, n := range pattern {
		r.led.On()
		r.sleep(time.Duration(n) * r.dot)
		r.led.Off()
		r.sleep(r.dot)
	}
	r.sleep(3 * r.dot)
}
