// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package picoboot talks to the RP2040/RP2350 boot ROM in the BOOTSEL mode
// using the PICOBOOT protocol over USB.
package picoboot

import (
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"strings"

	usb "github.com/google/gousb"
)

const magic uint32 = 0x431fd10b

const (
	cmdExclusiveAccess uint8 = 0x01
	cmdReboot          uint8 = 0x02
	cmdFlashErase      uint8 = 0x03
	cmdRead            uint8 = 0x84
	cmdWrite           uint8 = 0x05
	cmdExitXIP         uint8 = 0x06
	cmdEnterXIP        uint8 = 0x07
)

// Exclusive access modes.
const (
	NotExclusive   uint8 = 0
	Exclusive      uint8 = 1 // disable the USB mass storage interface
	ExclusiveEject uint8 = 2 // also eject the USB mass storage volume
)

// Conn is a connection to the PICOBOOT interface. Commands are written to out
// and the data and the status are read from in.
type Conn struct {
	closer interface{ Close() error }
	out    io.Writer
	in     io.Reader
	cmdBuf [32]byte
	token  uint32
}

func parseBusAddr(busAddr string) (int, int) {
	s := strings.Split(busAddr, ":")
	if len(s) != 2 {
		return -1, -1
	}
	bus, err := strconv.ParseUint(s[0], 10, 8)
	if err != nil {
		return -1, -1
	}
	dev, err := strconv.ParseUint(s[1], 10, 8)
	if err != nil {
		return -1, -1
	}
	return int(bus), int(dev)
}

type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return "picoboot: " + e.Op + ": " + e.Err.Error()
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}

// NewConn returns a connection that uses out and in as the bulk endpoints.
func NewConn(out io.Writer, in io.Reader) *Conn {
	c := &Conn{out: out, in: in}
	binary.LittleEndian.AppendUint32(c.cmdBuf[:0], magic)
	return c
}

// Connect connects to the USB device in PICOBOOT mode. You can connect to the
// concrete device on the USB bus by providing BUS:DEV string where both BUS
// and DEV are decimal unsigned integers. If busAddr is empty connect will try
// to find a PICOBOOT device on the bus (it will return an error if there are
// more than one such devices).
func Connect(busAddr string) (conn *Conn, err error) {
	defer wrapErr("Connect", &err)
	bus, addr := parseBusAddr(busAddr)
	if busAddr != "" && bus < 0 {
		return nil, errors.New("bad USB device address: " + busAddr)
	}
	ctx := usb.NewContext()
	var cn, in, an int
	devs, err := ctx.OpenDevices(func(desc *usb.DeviceDesc) bool {
		if bus >= 0 && (desc.Bus != bus || desc.Address != addr) {
			return false
		}
		if desc.Vendor != 0x2e8a || desc.Product != 0x0003 && desc.Product != 0x000f {
			return false
		}
		for _, cfg := range desc.Configs {
			for _, id := range cfg.Interfaces {
				for _, is := range id.AltSettings {
					if is.Class == 0xff && is.SubClass == 0 && is.Protocol == 0 {
						cn, in, an = cfg.Number, id.Number, is.Alternate
						return true
					}
				}
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			ctx.Close()
		}
	}()
	if len(devs) == 0 {
		return nil, errors.New("no USB devices in BOOTSEL mode were found")
	}
	if len(devs) != 1 {
		return nil, errors.New("found more than one USB device in BOOTSEL mode")
	}
	dev := devs[0]
	dev.SetAutoDetach(true)

	cfg, err := dev.Config(cn)
	if err != nil {
		return nil, err
	}
	intf, err := cfg.Interface(in, an)
	if err != nil {
		return nil, err
	}
	var rxn, txn int
	if n := len(intf.Setting.Endpoints); n != 2 {
		return nil, errors.New("want exactly two USB bulk endpoints")
	}
	for _, ed := range intf.Setting.Endpoints {
		if ed.Direction == usb.EndpointDirectionIn {
			rxn = ed.Number
		} else {
			txn = ed.Number
		}
	}
	if rxn == 0 || txn == 0 {
		return nil, errors.New("no bulk IN/OUT endpoint pair in the USB interface")
	}
	ie, err := intf.InEndpoint(rxn)
	if err != nil {
		return nil, err
	}
	oe, err := intf.OutEndpoint(txn)
	if err != nil {
		return nil, err
	}
	conn = NewConn(oe, ie)
	conn.closer = ctx
	return
}

func (c *Conn) Close() (err error) {
	if c.closer == nil {
		return nil
	}
	err = c.closer.Close()
	wrapErr("Close", &err)
	return
}

func (c *Conn) writeCmd(cmdId uint8, transferLength int, args any) error {
	cmdSize := 0
	if args != nil {
		cmdSize = binary.Size(args)
	}
	if uint(cmdSize) > 16 {
		return errors.New("wrong args size")
	}
	le := binary.LittleEndian
	buf := c.cmdBuf[:4] // persistent magic number
	buf = le.AppendUint32(buf, c.token)
	buf = append(buf, cmdId, uint8(cmdSize))
	buf = buf[:len(buf)+2] // reserved field
	buf = le.AppendUint32(buf, uint32(transferLength))
	if args != nil {
		buf, _ = binary.Append(buf, le, args)
	}
	n := len(buf)
	buf = buf[:cap(buf)]
	clear(buf[n:]) // padd with zeros
	_, err := c.out.Write(buf)
	c.token++
	return err
}

// ack finishes a command without the data phase or with the data phase in the
// OUT direction.
func (c *Conn) ack() error {
	_, err := c.in.Read(nil)
	return err
}

func (c *Conn) SetExclusiveAccess(mode uint8) (err error) {
	defer wrapErr("SetExclusiveAccess", &err)
	if err = c.writeCmd(cmdExclusiveAccess, 0, &mode); err != nil {
		return
	}
	return c.ack()
}

// ExitXIP switches the flash to the serial command mode required by
// FlashErase and Write.
func (c *Conn) ExitXIP() (err error) {
	defer wrapErr("ExitXIP", &err)
	if err = c.writeCmd(cmdExitXIP, 0, nil); err != nil {
		return
	}
	return c.ack()
}

// EnterXIP restores the execute in place mode of the flash.
func (c *Conn) EnterXIP() (err error) {
	defer wrapErr("EnterXIP", &err)
	if err = c.writeCmd(cmdEnterXIP, 0, nil); err != nil {
		return
	}
	return c.ack()
}

// FlashErase erases size bytes of the flash starting at addr. Both must be
// multiples of 4096.
func (c *Conn) FlashErase(addr, size uint32) (err error) {
	defer wrapErr("FlashErase", &err)
	args := [2]uint32{addr, size}
	if err = c.writeCmd(cmdFlashErase, 0, &args); err != nil {
		return
	}
	return c.ack()
}

// ReadMem reads len(p) bytes of the device memory starting at addr.
func (c *Conn) ReadMem(addr uint32, p []byte) (err error) {
	defer wrapErr("ReadMem", &err)
	spec := [2]uint32{addr, uint32(len(p))}
	if err = c.writeCmd(cmdRead, len(p), &spec); err != nil {
		return
	}
	if _, err = io.ReadFull(c.in, p); err != nil {
		return
	}
	_, err = c.out.Write(nil)
	return
}

// WriteMem writes p to the device memory at addr. Writes to the flash must be
// page aligned and the written pages must be erased before.
func (c *Conn) WriteMem(addr uint32, p []byte) (err error) {
	defer wrapErr("WriteMem", &err)
	spec := [2]uint32{addr, uint32(len(p))}
	if err = c.writeCmd(cmdWrite, len(p), &spec); err != nil {
		return
	}
	if _, err = c.out.Write(p); err != nil {
		return
	}
	return c.ack()
}

// Reboot reboots the device after delayMs milliseconds. If pc is zero the
// device boots normally, otherwise it starts the code at pc with the stack
// pointer set to sp.
func (c *Conn) Reboot(pc, sp, delayMs uint32) (err error) {
	defer wrapErr("Reboot", &err)
	args := [3]uint32{pc, sp, delayMs}
	if err = c.writeCmd(cmdReboot, 0, &args); err != nil {
		return
	}
	return c.ack()
}
