// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package logwriter implements writing to log.Logger's.
package logwriter // import "mellium.im/keelsbot/internal/logwriter"

import (
	"io"
	"log"
)

type logWriter struct {
	logger *log.Logger
}

func (lw logWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	lw.logger.Println(string(p))
	return len(p), nil
}

// New returns a writer that mirrors all writes to the provided logger.
// A nil logger or one that writes to io.Discard results in io.Discard.
func New(logger *log.Logger) io.Writer {
	if logger == nil || logger.Writer() == io.Discard {
		return io.Discard
	}
	return logWriter{
		logger: logger,
	}
}
