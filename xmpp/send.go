// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/stanza"
)

// SendFilter rewrites an outgoing element.
// Returning nil drops the element.
type SendFilter func(e *element.Element) *element.Element

// FilterID identifies a send filter so that it can be removed.
type FilterID uint64

type sendFilter struct {
	id FilterID
	f  SendFilter
}

// AddSendFilter registers f to run on every element passed to Send before it
// is serialized. Filters run in the order they were added and each one sees
// the output of the previous one.
func (c *Client) AddSendFilter(f SendFilter) FilterID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextFilter++
	c.filters = append(c.filters, sendFilter{id: c.nextFilter, f: f})
	return c.nextFilter
}

// RemoveSendFilter removes a filter added with AddSendFilter.
func (c *Client) RemoveSendFilter(id FilterID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.filters {
		if f.id == id {
			c.filters = append(c.filters[:i:i], c.filters[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Client) filter(e *element.Element) *element.Element {
	c.mu.Lock()
	filters := c.filters
	c.mu.Unlock()
	if len(filters) == 0 {
		return e
	}
	e = e.Copy()
	for _, f := range filters {
		if e = f.f(e); e == nil {
			return nil
		}
	}
	return e
}

// Send writes an element to the current connection.
func (c *Client) Send(e *element.Element) error {
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}
	if e = c.filter(e); e == nil {
		return nil
	}
	return s.t.writeElement(e)
}

// SendWait sends e and blocks until an element accepted by m is received.
// The wait is registered before e is written so that a fast reply cannot be
// missed. If no reply arrives within timeout (ResponseTimeout if zero) the
// wait is removed and ErrTimeout is returned; a reply arriving after that is
// dispatched to the other handlers as usual.
//
// SendWait must not be called from a handler that runs on the parse
// goroutine.
func (c *Client) SendWait(ctx context.Context, e *element.Element, m mask.Matcher, timeout time.Duration) (*element.Element, error) {
	if timeout <= 0 {
		timeout = c.opts.ResponseTimeout
	}
	w := c.mux.Wait(m)
	if err := c.Send(e); err != nil {
		w.Cancel()
		return nil, err
	}
	return w.Next(ctx, timeout)
}

// SendIQ sends a get or set IQ and waits for its result.
// An ID is generated if the IQ has none.
// If the reply is an error it is returned along with a stanza.Error.
func (c *Client) SendIQ(ctx context.Context, iq stanza.IQ, timeout time.Duration) (stanza.IQ, error) {
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
	if reply.Type == stanza.ErrorIQ {
		if reply.Err == nil {
			return reply, stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
		}
		return reply, *reply.Err
	}
	return reply, nil
}

// SendMessage sends a message. An empty type is sent as chat.
func (c *Client) SendMessage(to jid.JID, body, subject string, typ stanza.MessageType) error {
	return c.Send(stanza.NewMessage(to, body, subject, typ).Element())
}

// SendPresence sends available presence, to the server if to is the zero JID.
func (c *Client) SendPresence(show, status string, priority int8, to jid.JID) error {
	return c.Send(stanza.NewPresence(show, status, priority, stanza.AvailablePresence, to).Element())
}

// MakeIQGet returns a get IQ with a new ID.
func (c *Client) MakeIQGet(to jid.JID, payload *element.Element) stanza.IQ {
	return stanza.NewIQ(stanza.GetIQ, to, c.NewID(), payload)
}

// MakeIQSet returns a set IQ with a new ID.
func (c *Client) MakeIQSet(to jid.JID, payload *element.Element) stanza.IQ {
	return stanza.NewIQ(stanza.SetIQ, to, c.NewID(), payload)
}

// MakeIQResult returns the result answering req.
func (c *Client) MakeIQResult(req stanza.IQ, payload *element.Element) stanza.IQ {
	return req.Result(payload)
}

// MakeIQError returns the error answering req.
func (c *Client) MakeIQError(req stanza.IQ, se stanza.Error) stanza.IQ {
	return req.Error(se)
}
