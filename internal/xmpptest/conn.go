// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"context"
	"sync"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/pool"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/roster"
	"mellium.im/keelsbot/stanza"
)

// Conn is an in memory connection for testing code that talks to the network
// only through handlers, events and Send.
// Elements that are sent are recorded and, if Respond is set, its reply is
// dispatched as if the server had sent it.
type Conn struct {
	// Respond returns the reply the server sends for an outgoing element, or
	// nil.
	Respond func(e *element.Element) *element.Element

	jid  jid.JID
	mux  *mux.ServeMux
	bus  *event.Bus
	ids  stanza.IDGen
	sent chan *element.Element

	mu         sync.Mutex
	reconnects int
	dies       int
}

// NewConn returns a connection bound to the full address j.
func NewConn(j jid.JID) *Conn {
	p := pool.New(8)
	return &Conn{
		jid:  j,
		mux:  mux.New(mux.Pool(p)),
		bus:  event.NewBus(p, nil),
		sent: make(chan *element.Element, 100),
	}
}

// Send records e and dispatches the reply from Respond.
func (c *Conn) Send(e *element.Element) error {
	c.sent <- e
	if c.Respond != nil {
		if reply := c.Respond(e); reply != nil {
			c.mux.Dispatch(reply)
		}
	}
	return nil
}

// SendWait registers a wait for m and sends e.
func (c *Conn) SendWait(ctx context.Context, e *element.Element, m mask.Matcher, timeout time.Duration) (*element.Element, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	w := c.mux.Wait(m)
	if err := c.Send(e); err != nil {
		w.Cancel()
		return nil, err
	}
	return w.Next(ctx, timeout)
}

// SendIQ sends a request and decodes the reply.
func (c *Conn) SendIQ(ctx context.Context, iq stanza.IQ, timeout time.Duration) (stanza.IQ, error) {
	if iq.ID == "" {
		iq.ID = c.NewID()
	}
	e, err := c.SendWait(ctx, iq.Element(), mask.Reply(iq.ID), timeout)
	if err != nil {
		return stanza.IQ{}, err
	}
	reply, err := stanza.DecodeIQ(e)
	if err != nil {
		return reply, err
	}
	if reply.Err != nil {
		return reply, *reply.Err
	}
	return reply, nil
}

// Deliver dispatches e as if it had been read from the stream and returns
// the number of handlers that accepted it.
// Unhandled requests are answered like a client would.
func (c *Conn) Deliver(e *element.Element) int {
	n := c.mux.Dispatch(e)
	if n == 0 {
		if reply := mux.IQFallback(e); reply != nil {
			c.sent <- reply
		}
	}
	return n
}

// Sent returns the next element that was sent, waiting up to a second.
// It returns nil if nothing was sent.
func (c *Conn) Sent() *element.Element {
	select {
	case e := <-c.sent:
		return e
	case <-time.After(time.Second):
		return nil
	}
}

// Pending returns the number of sent elements not yet read with Sent.
func (c *Conn) Pending() int {
	return len(c.sent)
}

// Reconnects returns the number of times Reconnect was called.
func (c *Conn) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

func (c *Conn) Mux() *mux.ServeMux { return c.mux }
func (c *Conn) Events() *event.Bus { return c.bus }
func (c *Conn) JID() jid.JID { return c.jid }
func (c *Conn) NewID() string { return c.ids.Next() }

// Reconnect counts the call.
func (c *Conn) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

// RequestRoster sends a roster request without waiting for the reply.
func (c *Conn) RequestRoster() error {
	return c.Send(roster.FetchIQ(c.NewID()).Element())
}

// Die counts the call.
func (c *Conn) Die() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dies++
}

// Dies returns the number of times Die was called.
func (c *Conn) Dies() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dies
}
