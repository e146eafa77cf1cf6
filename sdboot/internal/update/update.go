// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package update installs a UF2 image into the flash in two passes. The first
// pass validates the whole image and compares it with the flash content
// without modifying anything. The second pass erases and programs the flash
// in an order that leaves the device bootable if interrupted at any point:
// the page holding the second stage loader is restored right after the erase
// and the vector table, which marks the firmware as installed, is written
// last.
package update

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/diag"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/ivset"
	"github.com/embeddedgo/sdboot/sdboot/internal/prog"
	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
)

// Media is the source of the image.
type Media interface {
	// ReadAll passes the consecutive blocks of the image to fn. It returns
	// an error if the image cannot be read to the end or fn returns false.
	ReadAll(fn func(b *uf2.Block) bool) error

	// Remove deletes the image so it is not installed again.
	Remove() error
}

// Signaler receives the non-fatal diagnostic codes.
type Signaler interface {
	Signal(c diag.Code)
}

// State is the state of the update.
type State uint8

const (
	Idle State = iota
	Validating
	Skipped
	Committing
	Done
	Fatal
)

var states = [...]string{
	Idle:       "idle",
	Validating: "validating",
	Skipped:    "skipped",
	Committing: "committing",
	Done:       "done",
	Fatal:      "fatal",
}

func (s State) String() string {
	if int(s) < len(states) {
		return states[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Pass identifies the pass over the image.
type Pass uint8

const (
	PassValidate Pass = 1
	PassCommit   Pass = 2
)

var (
	ErrNoBlocks      = errors.New("image contains no blocks")
	ErrIncomplete    = errors.New("image incomplete")
	ErrNoVectorTable = errors.New("image contains no valid vector table")
)

// FatalError is returned when the update failed in a way that requires
// halting the device. Code tells what to signal.
type FatalError struct {
	Code diag.Code
	Err  error
}

func (e *FatalError) Error() string {
	return "update: " + e.Code.String() + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// Result summarizes a finished update.
type Result struct {
	State     State
	Blocks    uint32           // number of blocks in the image
	Pages     int              // number of flash pages in the image
	Sectors   []ivset.Interval // erased sector ranges (sector indices)
	DeleteErr error            // the image could not be removed
}

// Updater installs images from Media into the flash Device.
type Updater struct {
	layout   *board.Layout
	dev      flash.Device
	media    Media
	led      diag.LED
	diag     Signaler
	log      logrus.FieldLogger
	progress func(p Pass, accepted, total uint32)
	state    State
}

// Option configures an Updater.
type Option func(*Updater)

// WithLED shows the progress on led.
func WithLED(led diag.LED) Option { return func(u *Updater) { u.led = led } }

// WithDiag sets the receiver of the non-fatal diagnostic codes.
func WithDiag(d Signaler) Option { return func(u *Updater) { u.diag = d } }

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option { return func(u *Updater) { u.log = log } }

// WithProgress sets the function called after every accepted block.
func WithProgress(fn func(p Pass, accepted, total uint32)) Option {
	return func(u *Updater) { u.progress = fn }
}

// New returns an Updater that programs dev laid out according to l.
func New(l *board.Layout, dev flash.Device, m Media, opts ...Option) *Updater {
	u := &Updater{layout: l, dev: dev, media: m, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// State returns the current state of the updater.
func (u *Updater) State() State { return u.state }

func (u *Updater) enter(s State) {
	u.log.WithFields(logrus.Fields{"from": u.state, "to": s}).Debug("update state")
	u.state = s
}

func (u *Updater) ledOn() {
	if u.led != nil {
		u.led.On()
	}
}

func (u *Updater) ledOff() {
	if u.led != nil {
		u.led.Off()
	}
}

func (u *Updater) ledToggle() {
	if u.led != nil {
		u.led.Toggle()
	}
}

func (u *Updater) signal(c diag.Code) {
	if u.diag != nil {
		u.diag.Signal(c)
	}
}

func (u *Updater) fail(c diag.Code, err error) error {
	u.enter(Fatal)
	u.log.WithError(err).Error("update failed")
	return &FatalError{c, err}
}

// Validate runs the validation pass only. The returned session describes the
// erase and write plan. The caller should release it.
func (u *Updater) Validate() (*prog.Session, error) {
	s := prog.New(u.layout, &ValidationSink{u: u})
	if err := u.validate(s); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func (u *Updater) validate(s *prog.Session) error {
	u.enter(Validating)
	err := u.media.ReadAll(s.Process)
	switch {
	case err != nil:
		if rerr := s.Err(); rerr != nil {
			err = rerr
		}
		return err
	case s.NumBlocks == 0:
		return ErrNoBlocks
	case s.NumAccepted != s.NumBlocks:
		return fmt.Errorf("%w: %d of %d blocks", ErrIncomplete, s.NumAccepted, s.NumBlocks)
	case !s.HasVectorTable:
		return ErrNoVectorTable
	}
	u.log.WithFields(logrus.Fields{
		"blocks":    s.NumBlocks,
		"sectors":   s.SectorsErased.Len(),
		"different": s.IsDifferent,
	}).Info("image validated")
	return nil
}

// Run installs the image. It returns a *FatalError if the image is invalid or
// the flash could not be programmed. An image equal to the flash content is
// not programmed. In both non-fatal cases the image is removed from Media.
func (u *Updater) Run() (*Result, error) {
	s := prog.New(u.layout, &ValidationSink{u: u})
	defer s.Release()

	if err := u.validate(s); err != nil {
		code := diag.InvalidUF2
		var ferr *flash.Error
		if errors.As(err, &ferr) {
			code = diag.FlashFailed
		}
		return nil, u.fail(code, err)
	}
	res := &Result{
		Blocks:  s.NumBlocks,
		Pages:   s.PagesWritten.Len(),
		Sectors: s.SectorsErased.Intervals(),
	}
	if !s.IsDifferent {
		u.enter(Skipped)
		u.signal(diag.SkippedProgramming)
	} else {
		u.enter(Committing)
		if err := u.commit(s); err != nil {
			return nil, u.fail(diag.FlashFailed, err)
		}
		u.enter(Done)
	}
	res.State = u.state
	if err := u.media.Remove(); err != nil {
		u.log.WithError(err).Warn("cannot remove image")
		res.DeleteErr = err
		u.signal(diag.DeleteFailed)
	}
	u.ledOff()
	return res, nil
}

func (u *Updater) commit(s *prog.Session) error {
	l := u.layout

	// The vector table lives in sector 0 so a valid image always erases it.
	if s.SectorsErased.NumIntervals() == 0 || s.SectorsErased.At(0).Start != 0 {
		panic("update: image does not erase sector 0")
	}

	boot2, err := flash.ReadPage(u.dev, l, 0)
	if err != nil {
		return err
	}

	u.ledOn()
	for iv := range s.SectorsErased.All() {
		if err := u.dev.Erase(iv.Start*l.SectorSize, uint32(iv.Len())*l.SectorSize); err != nil {
			return err
		}
	}
	if err := u.dev.Program(0, boot2); err != nil {
		return err
	}
	u.log.WithField("sectors", s.SectorsErased.Len()).Debug("flash erased")

	sink := &CommitSink{u: u}
	s.Restart(sink)
	if err := u.media.ReadAll(s.Process); err != nil {
		if rerr := s.Err(); rerr != nil {
			err = rerr
		}
		return err
	}
	// The image may have changed since the validation.
	if s.NumAccepted != s.NumBlocks || !sink.staged {
		return fmt.Errorf("%w: image changed after validation", ErrIncomplete)
	}
	return u.dev.Program(l.VectorTableOffset, s.VectorTable)
}

func (u *Updater) report(p Pass, s *prog.Session) {
	if u.progress != nil {
		u.progress(p, s.NumAccepted+1, s.NumBlocks)
	}
}
