// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package update

import (
	"bytes"
	"errors"

	"github.com/embeddedgo/sdboot/sdboot/internal/flash"
	"github.com/embeddedgo/sdboot/sdboot/internal/prog"
	"github.com/embeddedgo/sdboot/sdboot/internal/uf2"
)

// ValidationSink compares the accepted blocks with the flash content and
// sets Session.IsDifferent on the first difference. The first flash page,
// which holds the second stage loader, always compares equal.
type ValidationSink struct {
	u   *Updater
	buf []byte
}

func (vs *ValidationSink) Accept(s *prog.Session, b *uf2.Block) bool {
	u := vs.u
	if s.NumAccepted%128 == 0 {
		u.ledToggle()
	}
	if b.TargetAddr != s.Layout.FlashBase && !s.IsDifferent {
		if vs.buf == nil {
			vs.buf = make([]byte, s.Layout.PageSize)
		}
		off := s.Layout.Offset(b.TargetAddr)
		if _, err := u.dev.ReadAt(vs.buf, int64(off)); err != nil {
			if !errors.As(err, new(*flash.Error)) {
				err = &flash.Error{Op: "read", Off: off, Len: len(vs.buf), Err: err}
			}
			s.Fail(b, err)
			return false
		}
		s.IsDifferent = !bytes.Equal(vs.buf, b.Payload())
	}
	u.report(PassValidate, s)
	return true
}

// CommitSink programs the accepted blocks. The block for the second stage
// loader page is ignored and the vector table is staged in
// Session.VectorTable to be written after all other blocks.
type CommitSink struct {
	u      *Updater
	staged bool
}

func (cs *CommitSink) Accept(s *prog.Session, b *uf2.Block) bool {
	u := cs.u
	l := s.Layout
	if s.NumAccepted%16 == 0 {
		u.ledToggle()
	}
	switch b.TargetAddr {
	case l.FlashBase:
		// Restored from the snapshot after the erase.
	case l.VectorTableAddr():
		copy(s.VectorTable, b.Payload())
		cs.staged = true
	default:
		if err := u.dev.Program(l.Offset(b.TargetAddr), b.Payload()); err != nil {
			s.Fail(b, err)
			return false
		}
	}
	u.report(PassCommit, s)
	return true
}
