// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"log"

	"mellium.im/keelsbot/internal/pool"
)

// Option configures a single registration.
type Option func(r *registration)

// Disposable removes the registration after its first match.
func Disposable() Option {
	return func(r *registration) {
		r.disposable = true
	}
}

// Concurrent runs the handler on the mux's executor instead of on the
// dispatching goroutine.
// Handlers that block (for example on a reply from the network) must be
// concurrent, or they stall the stream.
func Concurrent() Option {
	return func(r *registration) {
		r.concurrent = true
	}
}

// Name sets the name used for the registration in log messages.
func Name(name string) Option {
	return func(r *registration) {
		r.name = name
	}
}

// MuxOption configures a ServeMux.
type MuxOption func(m *ServeMux)

// Logger sets the logger used to report failing handlers.
func Logger(l *log.Logger) MuxOption {
	return func(m *ServeMux) {
		m.logger = l
	}
}

// Pool sets the executor used for concurrent handlers.
func Pool(p *pool.Pool) MuxOption {
	return func(m *ServeMux) {
		m.pool = p
	}
}
