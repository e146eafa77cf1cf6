// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package diag

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// UARTFormatter formats log entries the way the bootloader prints them on its
// serial console: "[Boot3] (code): message". Entries without the code field
// are printed without it.
type UARTFormatter struct{}

func (UARTFormatter) Format(e *logrus.Entry) ([]byte, error) {
	if c, ok := e.Data["code"]; ok {
		return fmt.Appendf(nil, "[Boot3] (%v): %s\n", c, e.Message), nil
	}
	return fmt.Appendf(nil, "[Boot3] %s\n", e.Message), nil
}

// NewUART returns a logger that writes to w using UARTFormatter.
func NewUART(w io.Writer) *logrus.Logger {
	return &logrus.Logger{
		Out:       w,
		Formatter: UARTFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
}
