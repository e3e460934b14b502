// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package event is a small bus of named events.
//
// The engine emits events as the session progresses (connected,
// session_start, message, got_online, …) and the bot layer and plugins
// subscribe to them.
// Payloads are the structs defined in this package; see the documentation on
// each Name for the type it carries.
package event // import "mellium.im/keelsbot/event"

import (
	"context"
	"io"
	"log"
	"runtime/debug"
	"sync"

	"mellium.im/keelsbot/internal/pool"
)

// Name identifies an event.
type Name string

// Events emitted by the engine.
const (
	Connected           Name = "connected"            // nil
	Disconnected        Name = "disconnected"         // Disconnect
	SessionStart        Name = "session_start"        // Session
	Reconnected         Name = "reconnected"          // Session
	FailedAuth          Name = "failed_auth"          // AuthFailure
	ChatMessage         Name = "message"              // Message
	GroupchatMessage    Name = "groupchat_message"    // Message
	GroupchatPresence   Name = "groupchat_presence"   // Presence
	GotOnline           Name = "got_online"           // Presence
	GotOffline          Name = "got_offline"          // Presence
	ChangedStatus       Name = "changed_status"       // Presence
	ChangedSubscription Name = "changed_subscription" // Subscription
	RosterUpdate        Name = "roster_update"        // Roster
)

// Handler receives the payload of an event.
type Handler func(data any)

// Typed adapts a function that takes a specific payload type.
// Payloads of any other type are ignored.
func Typed[T any](f func(T)) Handler {
	return func(data any) {
		if v, ok := data.(T); ok {
			f(v)
		}
	}
}

// ID identifies a subscription so that it can be removed.
type ID uint64

type entry struct {
	id         ID
	h          Handler
	concurrent bool
	once       bool
}

// Option configures a subscription.
type Option func(*entry)

// Concurrent runs the handler on the bus executor.
func Concurrent() Option {
	return func(e *entry) { e.concurrent = true }
}

// Once removes the handler after it has been called for the first time.
func Once() Option {
	return func(e *entry) { e.once = true }
}

// Bus dispatches events to subscribers in subscription order.
type Bus struct {
	mu       sync.Mutex
	next     ID
	handlers map[Name][]*entry
	pool     *pool.Pool
	logger   *log.Logger
}

// NewBus returns a bus that runs concurrent handlers on p and reports panics
// to logger. Either may be nil.
func NewBus(p *pool.Pool, logger *log.Logger) *Bus {
	if p == nil {
		p = pool.New(pool.DefaultSize)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Bus{
		handlers: make(map[Name][]*entry),
		pool:     p,
		logger:   logger,
	}
}

// On subscribes h to the named event.
func (b *Bus) On(name Name, h Handler, opt ...Option) ID {
	if h == nil {
		panic("event: nil handler")
	}
	e := &entry{h: h}
	for _, o := range opt {
		o(e)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	e.id = b.next
	b.handlers[name] = append(b.handlers[name], e)
	return e.id
}

// Off removes a subscription and reports whether it existed.
func (b *Bus) Off(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, list := range b.handlers {
		for i, e := range list {
			if e.id == id {
				b.handlers[name] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Count returns the number of handlers subscribed to name.
func (b *Bus) Count(name Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[name])
}

// Emit calls every handler subscribed to name with data.
// Handlers that are not concurrent run before Emit returns.
func (b *Bus) Emit(name Name, data any) {
	b.mu.Lock()
	list := b.handlers[name]
	run := make([]*entry, 0, len(list))
	kept := list[:0:0]
	for _, e := range list {
		run = append(run, e)
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) != len(list) {
		b.handlers[name] = kept
	}
	b.mu.Unlock()

	for _, e := range run {
		if !e.concurrent {
			b.call(name, e, data)
			continue
		}
		e := e
		err := b.pool.Go(context.Background(), func() {
			b.call(name, e, data)
		})
		if err != nil {
			b.logger.Printf("event: could not schedule %s handler: %v", name, err)
		}
	}
}

func (b *Bus) call(name Name, e *entry, data any) {
	defer func() {
		if v := recover(); v != nil {
			b.logger.Printf("event: %s handler panicked: %v\n%s", name, v, debug.Stack())
		}
	}()
	e.h(data)
}
