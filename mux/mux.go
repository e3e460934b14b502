// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements an XMPP multiplexer.
//
// A ServeMux holds an ordered list of registrations, each pairing a matcher
// with a handler, a filter, or a pending wait.
// Every element read from the stream is offered to the registrations in the
// order they were made; all of those that match are run.
// Registration and removal may happen at any time, including from inside a
// handler that is currently being dispatched.
package mux // import "mellium.im/keelsbot/mux"

import (
	"context"
	"io"
	"log"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/pool"
	"mellium.im/keelsbot/mask"
)

// Handler responds to an element read from the stream.
type Handler interface {
	HandleElement(e *element.Element) error
}

// The HandlerFunc type is an adapter to allow the use of ordinary functions as
// handlers.
type HandlerFunc func(e *element.Element) error

// HandleElement calls f(e).
func (f HandlerFunc) HandleElement(e *element.Element) error {
	return f(e)
}

// FilterFunc inspects an element before the handlers registered after it.
// It may return a replacement element which is seen by every later
// registration. Returning nil leaves the element unchanged.
type FilterFunc func(e *element.Element) (*element.Element, error)

// ID identifies a registration so that it can be removed later.
type ID uint64

type registration struct {
	id         ID
	match      mask.Matcher
	handler    Handler
	filter     FilterFunc
	wait       chan *element.Element
	name       string
	disposable bool
	concurrent bool
	removed    atomic.Bool
}

// ServeMux is an XMPP stream multiplexer.
// The zero value is not usable; use New.
type ServeMux struct {
	mu     sync.Mutex
	next   ID
	regs   []*registration
	pool   *pool.Pool
	logger *log.Logger
}

// New allocates and returns a new ServeMux.
func New(opt ...MuxOption) *ServeMux {
	m := &ServeMux{}
	for _, o := range opt {
		o(m)
	}
	if m.pool == nil {
		m.pool = pool.New(pool.DefaultSize)
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard, "", 0)
	}
	return m
}

func (m *ServeMux) add(r *registration, opt []Option) ID {
	for _, o := range opt {
		o(r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	r.id = m.next
	m.regs = append(m.regs, r)
	return r.id
}

// Handle registers h to be called for every element accepted by match.
func (m *ServeMux) Handle(match mask.Matcher, h Handler, opt ...Option) ID {
	if match == nil || h == nil {
		panic("mux: nil matcher or handler")
	}
	return m.add(&registration{match: match, handler: h}, opt)
}

// HandleFunc registers f to be called for every element accepted by match.
func (m *ServeMux) HandleFunc(match mask.Matcher, f HandlerFunc, opt ...Option) ID {
	return m.Handle(match, f, opt...)
}

// Filter registers f to be run for every element accepted by match.
// Filters always run on the dispatching goroutine so that their replacement is
// in place before later registrations are considered; the Concurrent option is
// ignored.
func (m *ServeMux) Filter(match mask.Matcher, f FilterFunc, opt ...Option) ID {
	if match == nil || f == nil {
		panic("mux: nil matcher or filter")
	}
	return m.add(&registration{match: match, filter: f}, opt)
}

// Remove unregisters the handler, filter or wait with the given ID.
// It reports whether a registration was removed.
func (m *ServeMux) Remove(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regs {
		if r.id == id {
			r.removed.Store(true)
			m.regs = append(m.regs[:i], m.regs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of live registrations, including pending waits.
func (m *ServeMux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// claim removes a disposable registration.
// Only the first caller to claim a registration gets true.
func (m *ServeMux) claim(r *registration) bool {
	if !r.removed.CompareAndSwap(false, true) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rr := range m.regs {
		if rr == r {
			m.regs = append(m.regs[:i], m.regs[i+1:]...)
			break
		}
	}
	return true
}

// Dispatch offers e to every registration in registration order and returns
// the number of handlers and waits that accepted it (filters are not
// counted).
//
// Pending waits receive the element instead of a callback being run.
// Disposable registrations are removed as soon as they match, before their
// handler runs, so they fire at most once even when elements are dispatched
// from several goroutines.
// Errors and panics in handlers are logged and do not stop dispatch.
func (m *ServeMux) Dispatch(e *element.Element) int {
	m.mu.Lock()
	regs := make([]*registration, len(m.regs))
	copy(regs, m.regs)
	m.mu.Unlock()

	var n int
	for _, r := range regs {
		if r.removed.Load() || !r.match.Match(e) {
			continue
		}
		if (r.disposable || r.wait != nil) && !m.claim(r) {
			continue
		}

		switch {
		case r.wait != nil:
			r.wait <- e
			n++
		case r.filter != nil:
			if out := m.runFilter(r, e); out != nil {
				e = out
			}
		default:
			n++
			m.run(r, e)
		}
	}
	return n
}

func (m *ServeMux) run(r *registration, e *element.Element) {
	if !r.concurrent {
		m.call(r, e)
		return
	}
	err := m.pool.Go(context.Background(), func() {
		m.call(r, e)
	})
	if err != nil {
		m.logger.Printf("mux: could not schedule handler %s: %v", r, err)
	}
}

func (m *ServeMux) call(r *registration, e *element.Element) {
	defer func() {
		if v := recover(); v != nil {
			m.logger.Printf("mux: handler %s panicked: %v\n%s", r, v, debug.Stack())
		}
	}()
	if err := r.handler.HandleElement(e); err != nil {
		m.logger.Printf("mux: handler %s failed: %v", r, err)
	}
}

func (m *ServeMux) runFilter(r *registration, e *element.Element) (out *element.Element) {
	defer func() {
		if v := recover(); v != nil {
			m.logger.Printf("mux: filter %s panicked: %v\n%s", r, v, debug.Stack())
			out = nil
		}
	}()
	out, err := r.filter(e)
	if err != nil {
		m.logger.Printf("mux: filter %s failed: %v", r, err)
		return nil
	}
	return out
}

func (r *registration) String() string {
	if r.name != "" {
		return r.name
	}
	if s, ok := r.match.(interface{ String() string }); ok {
		return s.String()
	}
	return "#" + strconv.FormatUint(uint64(r.id), 10)
}
