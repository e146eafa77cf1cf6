// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/diag"
	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/transport"
	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
	"github.com/embeddedgo/sdboot/sdboot/internal/update"
)

var layout = board.Pico

const entry = 0x1000_0200 | 1

type reporter struct {
	signals []diag.Code
	fatals  []diag.Code
	onNoFW  func(n int)
}

func (r *reporter) Signal(c diag.Code) {
	r.signals = append(r.signals, c)
	if c == diag.NoFirmware && r.onNoFW != nil {
		r.onNoFW(len(r.signals))
	}
}

func (r *reporter) Fatal(c diag.Code) { r.fatals = append(r.fatals, c) }

// program returns the second stage loader page followed by the vector table.
func program() []byte {
	p := make([]byte, 2*layout.PageSize)
	copy(p, bytes.Repeat([]byte{0xb2}, int(layout.PageSize)))
	vt := p[layout.VectorTableOffset:]
	binary.LittleEndian.PutUint32(vt[0:], layout.SRAMEnd)
	binary.LittleEndian.PutUint32(vt[4:], entry)
	return p
}

type env struct {
	loader *Loader
	mem    *flash.Mem
	wd     *SoftWatchdog
	launch *LogLauncher
	rep    *reporter
	vol    *transport.Volume
	dir    string
}

func newEnv(t *testing.T) *env {
	log, _ := test.NewNullLogger()
	e := &env{
		mem: flash.NewMem(&layout),
		wd:  new(SoftWatchdog),
		rep: new(reporter),
	}
	cfg := transport.DefaultConfig
	cfg.Dir = filepath.Join(t.TempDir(), "sd")
	cfg.UseCardDetect = true
	e.dir = cfg.Dir
	e.vol = transport.New(cfg, nil, log)
	e.launch = &LogLauncher{Layout: &layout, Flash: e.mem, Log: log}
	e.loader = &Loader{
		Layout:   &layout,
		Flash:    e.mem,
		Media:    e.vol,
		Watchdog: e.wd,
		Launcher: e.launch,
		Diag:     e.rep,
		Log:      log,
		Poll:     backoff.NewConstantBackOff(time.Millisecond),
	}
	return e
}

func (e *env) install(t *testing.T) {
	require.NoError(t, e.mem.Program(0, program()[:layout.PageSize]))
	require.NoError(t, e.mem.Program(layout.PageSize, program()[layout.PageSize:]))
}

func (e *env) insertCard(t *testing.T, img []byte) {
	require.NoError(t, os.MkdirAll(e.dir, 0o755))
	require.NoError(t, os.WriteFile(e.vol.Path(), img, 0o644))
}

func image(t *testing.T, p []byte) []byte {
	var buf bytes.Buffer
	w := uf2.NewWriter(&buf, layout.FlashBase, uf2.FamilyIDPresent, layout.Family, int(layout.PageSize), len(p))
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func TestHandoffLaunchesFirmware(t *testing.T) {
	e := newEnv(t)
	e.install(t)
	e.wd.Enable()
	out, err := e.loader.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Launched, out)
	require.False(t, e.wd.CausedReboot(), "scratch not cleared")
	require.EqualValues(t, entry, e.launch.Entry)
	require.Equal(t, []diag.Code{diag.EnteringFirmware}, e.rep.signals)
}

func TestHandoffWithoutFirmware(t *testing.T) {
	e := newEnv(t)
	e.wd.Enable()
	_, err := e.loader.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, []diag.Code{diag.WatchdogWithoutFirmware}, e.rep.fatals)
	require.Zero(t, e.launch.Entry)
}

func TestInstalledFirmwareStarts(t *testing.T) {
	e := newEnv(t)
	e.install(t)
	out, err := e.loader.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Handoff, out)
	require.True(t, e.wd.CausedReboot())
	require.Empty(t, e.rep.signals)
}

func TestUpdateAndStart(t *testing.T) {
	e := newEnv(t)
	e.insertCard(t, image(t, program()))

	out, err := e.loader.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Handoff, out)
	require.False(t, e.vol.Exists(), "image not removed")
	// The second stage loader page of the image is never programmed.
	require.Equal(t, bytes.Repeat([]byte{flash.Erased}, int(layout.PageSize)), e.mem.Bytes()[:layout.PageSize])

	out, err = e.loader.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Launched, out)
	require.EqualValues(t, entry, e.launch.Entry)
}

func TestSameImageSkipped(t *testing.T) {
	e := newEnv(t)
	e.install(t)
	e.insertCard(t, image(t, program()))
	out, err := e.loader.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Handoff, out)
	require.Equal(t, []diag.Code{diag.SkippedProgramming}, e.rep.signals)
}

func TestWaitForFirmware(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.rep.onNoFW = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	_, err := e.loader.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, e.rep.signals, 3)
	require.Empty(t, e.rep.fatals)
}

func TestCardInsertedLater(t *testing.T) {
	e := newEnv(t)
	img := image(t, program())
	e.rep.onNoFW = func(n int) {
		if n == 2 {
			e.insertCard(t, img)
		}
	}
	out, err := e.loader.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Handoff, out)
	require.Equal(t, []diag.Code{diag.NoFirmware, diag.NoFirmware}, e.rep.signals)
}

func TestInvalidImageIsFatal(t *testing.T) {
	e := newEnv(t)
	p := program()
	binary.LittleEndian.PutUint32(p[layout.VectorTableOffset:], 0) // bad stack pointer
	e.insertCard(t, image(t, p))
	_, err := e.loader.Run(context.Background())
	var fe *update.FatalError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, diag.InvalidUF2, fe.Code)
	require.Equal(t, []diag.Code{diag.InvalidUF2}, e.rep.fatals)
	require.True(t, e.vol.Exists(), "invalid image removed")
	require.False(t, e.wd.CausedReboot())
}
