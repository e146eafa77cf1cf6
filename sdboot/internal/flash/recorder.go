// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import "fmt"

// OpKind is the kind of a recorded flash operation.
type OpKind uint8

const (
	OpErase OpKind = iota
	OpProgram
)

// Op is a recorded flash operation.
type Op struct {
	Kind OpKind
	Off  uint32
	Len  uint32
}

func (op Op) String() string {
	k := "erase"
	if op.Kind == OpProgram {
		k = "program"
	}
	return fmt.Sprintf("%s %#x+%#x", k, op.Off, op.Len)
}

// Recorder passes all calls to Device and records the successful erase and
// program operations.
type Recorder struct {
	Device
	Ops []Op
}

func (r *Recorder) Erase(off, n uint32) error {
	if err := r.Device.Erase(off, n); err != nil {
		return err
	}
	r.Ops = append(r.Ops, Op{OpErase, off, n})
	return nil
}

func (r *Recorder) Program(off uint32, data []byte) error {
	if err := r.Device.Program(off, data); err != nil {
		return err
	}
	r.Ops = append(r.Ops, Op{OpProgram, off, uint32(len(data))})
	return nil
}
