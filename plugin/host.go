// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package plugin

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/stanza"
)

// Host is the set of capabilities given to a plugin.
type Host interface {
	// Send writes an element to the current connection.
	Send(e *element.Element) error

	// SendWait sends e and waits for an element accepted by m.
	// It must not be called from a handler unless the handler was registered
	// with mux.Concurrent.
	SendWait(ctx context.Context, e *element.Element, m mask.Matcher, timeout time.Duration) (*element.Element, error)

	// SendIQ sends a request and waits for the result.
	SendIQ(ctx context.Context, iq stanza.IQ, timeout time.Duration) (stanza.IQ, error)

	// Handle registers a stanza handler. It is removed when the plugin is
	// unloaded.
	Handle(m mask.Matcher, h mux.Handler, opt ...mux.Option) mux.ID
	Remove(id mux.ID)

	// On subscribes to an event until the plugin is unloaded.
	On(name event.Name, h event.Handler, opt ...event.Option) event.ID
	Off(id event.ID)
	Emit(name event.Name, data any)

	// Cleanup registers a function to be called when the plugin is unloaded.
	// Cleanup functions run in the reverse order they were added.
	Cleanup(f func())

	JID() jid.JID
	NewID() string
	Logger() *log.Logger
	Debug() *log.Logger

	// Reconnect drops the connection so that the client connects again.
	Reconnect()

	// Peer returns another active plugin.
	Peer(name string) (Plugin, bool)
}

// scopedHost is the Host of one plugin instance.
type scopedHost struct {
	name   string
	conn   Conn
	reg    *Registry
	logger *log.Logger
	debug  *log.Logger

	mu       sync.Mutex
	closed   bool
	handlers []mux.ID
	events   []event.ID
	cleanup  []func()
}

func (h *scopedHost) Send(e *element.Element) error {
	return h.conn.Send(e)
}

func (h *scopedHost) SendWait(ctx context.Context, e *element.Element, m mask.Matcher, timeout time.Duration) (*element.Element, error) {
	return h.conn.SendWait(ctx, e, m, timeout)
}

func (h *scopedHost) SendIQ(ctx context.Context, iq stanza.IQ, timeout time.Duration) (stanza.IQ, error) {
	return h.conn.SendIQ(ctx, iq, timeout)
}

func (h *scopedHost) Handle(m mask.Matcher, handler mux.Handler, opt ...mux.Option) mux.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.debug.Printf("plugin %s registered a handler after it was unloaded", h.name)
		return 0
	}
	opt = append([]mux.Option{mux.Name(h.name)}, opt...)
	id := h.conn.Mux().Handle(m, handler, opt...)
	h.handlers = append(h.handlers, id)
	return id
}

func (h *scopedHost) Remove(id mux.ID) {
	h.mu.Lock()
	h.handlers = slices.DeleteFunc(h.handlers, func(v mux.ID) bool { return v == id })
	h.mu.Unlock()
	h.conn.Mux().Remove(id)
}

func (h *scopedHost) On(name event.Name, handler event.Handler, opt ...event.Option) event.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.debug.Printf("plugin %s subscribed to %s after it was unloaded", h.name, name)
		return 0
	}
	id := h.conn.Events().On(name, handler, opt...)
	h.events = append(h.events, id)
	return id
}

func (h *scopedHost) Off(id event.ID) {
	h.mu.Lock()
	h.events = slices.DeleteFunc(h.events, func(v event.ID) bool { return v == id })
	h.mu.Unlock()
	h.conn.Events().Off(id)
}

func (h *scopedHost) Emit(name event.Name, data any) {
	h.conn.Events().Emit(name, data)
}

func (h *scopedHost) Cleanup(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanup = append(h.cleanup, f)
}

func (h *scopedHost) JID() jid.JID { return h.conn.JID() }
func (h *scopedHost) NewID() string { return h.conn.NewID() }
func (h *scopedHost) Logger() *log.Logger { return h.logger }
func (h *scopedHost) Debug() *log.Logger { return h.debug }
func (h *scopedHost) Reconnect() { h.conn.Reconnect() }
func (h *scopedHost) Peer(n string) (Plugin, bool) { return h.reg.Get(n) }

// unwire removes everything the plugin registered and runs its cleanup
// functions.
func (h *scopedHost) unwire() {
	h.mu.Lock()
	h.closed = true
	handlers, events, cleanup := h.handlers, h.events, h.cleanup
	h.handlers, h.events, h.cleanup = nil, nil, nil
	h.mu.Unlock()

	for _, id := range handlers {
		h.conn.Mux().Remove(id)
	}
	for _, id := range events {
		h.conn.Events().Off(id)
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if v := recover(); v != nil {
					h.logger.Printf("plugin %s: cleanup panicked: %v", h.name, v)
				}
			}()
			cleanup[i]()
		}()
	}
}
