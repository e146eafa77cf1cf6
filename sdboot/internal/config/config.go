// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the bootloader configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/embeddedgo/sdboot/sdboot/internal/board"
	"github.com/embeddedgo/sdboot/sdboot/internal/transport"
)

// Diag configures the diagnostic outputs.
type Diag struct {
	UseLED   bool `toml:"use_led"`
	UseUART  bool `toml:"use_uart"`
	LEDPin   int  `toml:"led_pin"`
	UART     int  `toml:"uart"`
	UARTBaud int  `toml:"uart_baud"`
	DotMs    int  `toml:"dot_ms"` // duration of the Morse dot
}

// Dot returns the duration of the Morse dot.
func (d *Diag) Dot() time.Duration { return time.Duration(d.DotMs) * time.Millisecond }

// Boot configures the boot loop.
type Boot struct {
	PollMs int `toml:"poll_ms"` // interval between checks for a new image
}

// Poll returns the interval between checks for a new image.
func (b *Boot) Poll() time.Duration { return time.Duration(b.PollMs) * time.Millisecond }

type Config struct {
	Board board.Layout     `toml:"board"`
	Media transport.Config `toml:"media"`
	Diag  Diag             `toml:"diag"`
	Boot  Boot             `toml:"boot"`
}

// Default returns the configuration of the Raspberry Pi Pico with the SD card
// connected to SPI0.
func Default() *Config {
	return &Config{
		Board: board.Pico,
		Media: transport.DefaultConfig,
		Diag: Diag{
			UseLED:   true,
			UseUART:  true,
			LEDPin:   25,
			UART:     0,
			UARTBaud: 115200,
			DotMs:    100,
		},
		Boot: Boot{PollMs: 1000},
	}
}

// Load reads the configuration from the named file. Missing keys keep their
// default values. Unknown keys are an error.
func Load(name string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(name, c)
	if err != nil {
		return nil, err
	}
	if keys := md.Undecoded(); len(keys) != 0 {
		s := make([]string, len(keys))
		for i, k := range keys {
			s[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", name, strings.Join(s, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// LoadOrDefault is like Load but returns the default configuration if name is
// empty.
func LoadOrDefault(name string) (*Config, error) {
	if name == "" {
		return Default(), nil
	}
	return Load(name)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Board.Validate(); err != nil {
		return fmt.Errorf("board: %w", err)
	}
	switch {
	case c.Media.Firmware == "":
		return errors.New("media: empty firmware file name")
	case c.Diag.DotMs <= 0:
		return errors.New("diag: dot_ms must be positive")
	case c.Boot.PollMs <= 0:
		return errors.New("boot: poll_ms must be positive")
	}
	return nil
}
