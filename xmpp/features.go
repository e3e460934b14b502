// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
)

// A StreamFeature represents a feature that may be selected during stream
// negotiation.
type StreamFeature struct {
	// The XML name of the feature in the <stream:features/> list.
	Name xml.Name

	// Bits that are required before this feature is negotiated. For instance,
	// resource binding is only possible once the session is authenticated so
	// its Necessary bits are Authn.
	Necessary SessionState

	// Bits that must be off for this feature to be negotiated. For instance,
	// StartTLS cannot be negotiated on a connection that is already Secure.
	Prohibited SessionState

	// Breaking features stop processing of the remainder of the features list
	// once they claim it. Every feature that ends with a stream restart or
	// leads to one is breaking.
	Breaking bool

	// Negotiate is called with the feature element from the server's list.
	// It reports whether it claimed the feature. Negotiate must not block: it
	// sends its request and registers handlers for the replies with the
	// Negotiation. A returned error ends the session.
	Negotiate func(n *Negotiation, feature *element.Element) (claimed bool, err error)
}

// Negotiation gives stream features access to the connection being
// negotiated.
type Negotiation struct {
	ctx context.Context
	c   *Client
	s   *session
}

// Context returns the context of the current Run call.
func (n *Negotiation) Context() context.Context {
	return n.ctx
}

// Options returns the client options.
func (n *Negotiation) Options() Options {
	return n.c.opts
}

// State returns the state of the session.
func (n *Negotiation) State() SessionState {
	return n.s.getState()
}

// SetState sets bits in the session state.
func (n *Negotiation) SetState(bits SessionState) {
	n.s.setState(bits)
}

// Offered returns the feature with the given name from the features list
// being processed, or nil.
func (n *Negotiation) Offered(space, local string) *element.Element {
	return n.s.offered[xml.Name{Space: space, Local: local}]
}

// Send writes e on the connection.
// Unlike Client.Send no outbound filters are applied.
func (n *Negotiation) Send(e *element.Element) error {
	return n.s.t.writeElement(e)
}

// Handle registers a handler that runs for replies during the negotiation.
// Handlers run on the parse goroutine. They should be removed when the
// feature is done with them and are removed when the connection ends.
func (n *Negotiation) Handle(m mask.Matcher, f mux.HandlerFunc) mux.ID {
	id := n.c.mux.HandleFunc(m, f)
	n.s.handlers = append(n.s.handlers, id)
	return id
}

// HandleOnce is like Handle but the handler is removed when it first matches.
func (n *Negotiation) HandleOnce(m mask.Matcher, f mux.HandlerFunc) mux.ID {
	id := n.c.mux.HandleFunc(m, f, mux.Disposable())
	n.s.handlers = append(n.s.handlers, id)
	return id
}

// Remove removes a handler registered with Handle.
func (n *Negotiation) Remove(id mux.ID) {
	n.c.mux.Remove(id)
}

// NewID returns a new stanza ID.
func (n *Negotiation) NewID() string {
	return n.c.NewID()
}

// SetJID records the full address assigned by the server.
func (n *Negotiation) SetJID(j jid.JID) {
	n.c.setJID(j)
}

// StartTLS upgrades the connection and restarts the stream.
func (n *Negotiation) StartTLS(cfg *tls.Config) error {
	if err := n.s.t.startTLS(n.ctx, cfg); err != nil {
		return err
	}
	n.SetState(Secure)
	n.Restart()
	return nil
}

// TLSState returns the state of the TLS connection if there is one.
func (n *Negotiation) TLSState() (tls.ConnectionState, bool) {
	return n.s.t.tlsState()
}

// Restart requests a stream restart after the current element has been
// handled.
func (n *Negotiation) Restart() {
	n.s.restart = true
}

// Fail ends the session with err.
func (n *Negotiation) Fail(err error) {
	n.c.logger.Printf("negotiation failed: %v", err)
	n.s.fail(err)
}

// Ready marks the session as established and emits session_start, and also
// reconnected for every session after the first.
func (n *Negotiation) Ready() {
	n.SetState(Ready)
	c := n.c
	c.mu.Lock()
	c.sessions++
	again := c.sessions > 1
	j := c.jid
	c.mu.Unlock()

	c.logger.Printf("session started as %s", j)
	c.bus.Emit(event.SessionStart, event.Session{JID: j})
	if again {
		c.bus.Emit(event.Reconnected, event.Session{JID: j})
	}
}

func (c *Client) feature(name xml.Name) (StreamFeature, bool) {
	for _, f := range c.features {
		if f.Name == name {
			return f, true
		}
	}
	return StreamFeature{}, false
}

// handleFeatures walks a <stream:features/> list in the order the server sent
// it.
func (c *Client) handleFeatures(e *element.Element) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}
	children := e.Elements()
	s.offered = make(map[xml.Name]*element.Element, len(children))
	for _, child := range children {
		s.offered[child.Name] = child
	}
	n := &Negotiation{ctx: s.ctx, c: c, s: s}

	var claimed bool
	for _, child := range children {
		f, ok := c.feature(child.Name)
		if !ok {
			c.debug.Printf("skipping unsupported feature {%s}%s", child.Name.Space, child.Name.Local)
			continue
		}
		state := s.getState()
		if state&f.Necessary != f.Necessary || state&f.Prohibited != 0 {
			continue
		}
		ok, err := f.Negotiate(n, child)
		if err != nil {
			n.Fail(fmt.Errorf("xmpp: negotiating {%s}%s: %w", f.Name.Space, f.Name.Local, err))
			return nil
		}
		if ok {
			claimed = true
			if f.Breaking {
				break
			}
		}
	}
	if !claimed && s.getState()&Ready == 0 {
		n.Fail(ErrNoFeatures)
	}
	return nil
}
