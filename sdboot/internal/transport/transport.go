// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport provides access to the firmware image stored on
// a removable volume.
package transport

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/embeddedgo/sdboot/sdboot/internal/diag"
	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
)

// SD describes the wiring of the SD card connected over SPI.
type SD struct {
	SPI      int `toml:"spi"`       // SPI peripheral instance
	MISO     int `toml:"miso"`      // RX pin
	MOSI     int `toml:"mosi"`      // TX pin
	SCK      int `toml:"sck"`       // clock pin
	CS       int `toml:"cs"`        // chip select pin
	Detect   int `toml:"detect"`    // card detect pin
	BaudRate int `toml:"baud_rate"` // SPI clock frequency
}

// Config configures a Volume.
type Config struct {
	Dir           string `toml:"dir"`             // mount point of the volume
	Firmware      string `toml:"firmware"`        // image file name on the volume
	UseCardDetect bool   `toml:"use_card_detect"` // check the card presence before use
	SD            SD     `toml:"sd"`
}

// DefaultConfig matches the SD card wiring of the reference board.
var DefaultConfig = Config{
	Firmware: "firmware.uf2",
	SD: SD{
		SPI:      0,
		MISO:     16,
		MOSI:     19,
		SCK:      18,
		CS:       17,
		Detect:   22,
		BaudRate: 12_500_000,
	},
}

var (
	ErrNoImage  = errors.New("transport: no firmware image")
	ErrShort    = errors.New("transport: partial block at the end of the image")
	ErrRejected = errors.New("transport: block rejected")
)

// Volume is a removable volume emulated by a host directory. The card is
// present while the directory exists.
type Volume struct {
	cfg     Config
	led     diag.LED
	log     logrus.FieldLogger
	mounted bool
}

// New returns a volume described by cfg. The led, if not nil, is lit while
// the volume is being mounted.
func New(cfg Config, led diag.LED, log logrus.FieldLogger) *Volume {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Volume{cfg: cfg, led: led, log: log}
}

// Path returns the path to the firmware image.
func (v *Volume) Path() string {
	return filepath.Join(v.cfg.Dir, v.cfg.Firmware)
}

// Mounted reports whether the volume is mounted.
func (v *Volume) Mounted() bool { return v.mounted }

func (v *Volume) present() bool {
	fi, err := os.Stat(v.cfg.Dir)
	return err == nil && fi.IsDir()
}

func (v *Volume) mount() bool {
	if v.mounted && v.cfg.UseCardDetect && !v.present() {
		v.log.Debug("card removed")
		v.mounted = false
	}
	if v.mounted {
		return true
	}
	if v.led != nil {
		v.led.On()
		defer v.led.Off()
	}
	if !v.present() {
		return false
	}
	v.mounted = true
	v.log.WithFields(logrus.Fields{
		"dir":  v.cfg.Dir,
		"spi":  v.cfg.SD.SPI,
		"cs":   v.cfg.SD.CS,
		"baud": v.cfg.SD.BaudRate,
	}).Debug("volume mounted")
	return true
}

// Exists reports whether a non-empty firmware image is present.
func (v *Volume) Exists() bool {
	if !v.mount() {
		return false
	}
	fi, err := os.Stat(v.Path())
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// ReadAll passes the consecutive blocks of the image to fn. It stops with
// ErrRejected if fn returns false. The image is left on the volume.
func (v *Volume) ReadAll(fn func(b *uf2.Block) bool) error {
	if !v.Exists() {
		return ErrNoImage
	}
	f, err := os.Open(v.Path())
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	r := uf2.NewReader(f)
	var b uf2.Block
	for {
		switch err := r.Next(&b); err {
		case nil:
		case io.EOF:
			return nil
		case io.ErrUnexpectedEOF:
			return errors.Wrapf(ErrShort, "block %d", r.Count())
		default:
			return errors.Wrapf(err, "read block %d", r.Count())
		}
		if !fn(&b) {
			return errors.Wrapf(ErrRejected, "block %d", r.Count()-1)
		}
	}
}

// Remove deletes the image from the volume.
func (v *Volume) Remove() error {
	return errors.WithStack(os.Remove(v.Path()))
}
