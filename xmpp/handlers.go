// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"encoding/xml"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/roster"
	"mellium.im/keelsbot/stanza"
	"mellium.im/keelsbot/stream"
)

// handleBuiltins registers the handlers the engine itself relies on.
// They are registered first so that they see every element before any
// handler added by the user.
func (c *Client) handleBuiltins() {
	c.mux.HandleFunc(mask.Name(stream.NS, "error"), c.handleStreamError, mux.Name("stream error"))
	c.mux.HandleFunc(mask.Name(stream.NS, "features"), c.handleFeatures, mux.Name("stream features"))
	c.mux.Handle(
		mask.IQ(string(stanza.SetIQ), xml.Name{Space: ns.Roster, Local: "query"}),
		mux.IQHandler(c.handleRosterPush),
		mux.Name("roster push"),
	)
	c.mux.Handle(mask.Presence(), mux.PresenceHandler(c.handlePresence), mux.Name("presence"))
	c.mux.Handle(mask.Message(), mux.MessageHandler(c.handleMessage), mux.Name("message"))
}

func (c *Client) handleStreamError(e *element.Element) error {
	serr := stream.DecodeError(e)
	c.logger.Printf("stream error: %v %s", serr, serr.Text)
	if s := c.current(); s != nil {
		s.streamErr = serr
	}
	return nil
}

func (c *Client) handleRosterPush(iq stanza.IQ) error {
	// RFC 6121 §2.1.6: pushes from anyone other than our own account are
	// ignored.
	if me := c.JID(); !iq.From.IsZero() && !iq.From.Equal(me.Bare()) && !iq.From.Equal(me) {
		return c.Send(iq.Error(stanza.Error{Type: stanza.Cancel, Condition: stanza.ServiceUnavailable}).Element())
	}
	items, err := roster.DecodeQuery(iq)
	if err != nil {
		return c.Send(iq.Error(stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest}).Element())
	}
	changed := c.roster.Update(items)
	if err := c.Send(iq.Result(nil).Element()); err != nil {
		return err
	}
	c.bus.Emit(event.RosterUpdate, event.Roster{Items: changed})
	return nil
}

// RequestRoster asks the server for the roster.
// The reply is handled asynchronously: it updates the roster cache and emits
// roster_update.
func (c *Client) RequestRoster() error {
	req := roster.FetchIQ(c.NewID())
	id := c.mux.Handle(mask.Reply(req.ID), mux.IQHandler(func(reply stanza.IQ) error {
		if reply.Err != nil {
			return reply.Err
		}
		items, err := roster.DecodeQuery(reply)
		if err != nil {
			return err
		}
		changed := c.roster.Update(items)
		c.bus.Emit(event.RosterUpdate, event.Roster{Items: changed})
		return nil
	}), mux.Disposable(), mux.Name("roster result"))
	if err := c.Send(req.Element()); err != nil {
		c.mux.Remove(id)
		return err
	}
	return nil
}

func isMUC(p stanza.Presence) bool {
	for _, e := range p.Payload {
		if e.Is(ns.MUCUser, "x") {
			return true
		}
	}
	return false
}

func (c *Client) handlePresence(p stanza.Presence) error {
	switch p.Type {
	case stanza.SubscribePresence, stanza.SubscribedPresence, stanza.UnsubscribePresence, stanza.UnsubscribedPresence:
		c.bus.Emit(event.ChangedSubscription, event.Subscription{JID: p.From.Bare(), Type: p.Type})
		return c.answerSubscription(p)
	case stanza.ErrorPresence:
		c.debug.Printf("presence error from %s: %v", p.From, p.Err)
		return nil
	case stanza.ProbePresence:
		return nil
	}
	// Occupant presence is tracked by the MUC plugin.
	if isMUC(p) {
		return nil
	}

	var name event.Name
	switch c.roster.Presence(p) {
	case roster.CameOnline:
		name = event.GotOnline
	case roster.WentOffline:
		name = event.GotOffline
	case roster.StatusChanged:
		name = event.ChangedStatus
	default:
		return nil
	}
	c.bus.Emit(name, event.Presence{
		JID:      p.From.Bare(),
		Resource: p.From.Resourcepart(),
		Name:     c.roster.Name(p.From),
		Show:     roster.ShowOf(p),
		Status:   p.Status,
		Priority: p.Priority,
		Stanza:   p,
	})
	return nil
}

// answerSubscription applies the subscription policy to an incoming
// subscription request.
func (c *Client) answerSubscription(p stanza.Presence) error {
	if c.opts.Subscription == Manual {
		return nil
	}
	to := p.From.Bare()
	reply := func(typ stanza.PresenceType) error {
		return c.Send(stanza.NewPresence("", "", 0, typ, to).Element())
	}

	switch p.Type {
	case stanza.SubscribePresence:
		if c.opts.Subscription == Reject {
			return reply(stanza.UnsubscribedPresence)
		}
		if err := reply(stanza.SubscribedPresence); err != nil {
			return err
		}
		if c.opts.AutoSubscribe {
			return reply(stanza.SubscribePresence)
		}
	case stanza.UnsubscribePresence:
		if err := reply(stanza.UnsubscribedPresence); err != nil {
			return err
		}
		if c.opts.AutoSubscribe {
			return reply(stanza.UnsubscribePresence)
		}
	}
	return nil
}

func (c *Client) handleMessage(m stanza.Message) error {
	if m.Type == stanza.ErrorMessage {
		c.debug.Printf("message error from %s: %v", m.From, m.Err)
		return nil
	}
	payload := event.Message{
		JID:      m.From.Bare(),
		Resource: m.From.Resourcepart(),
		Name:     c.roster.Name(m.From),
		Type:     m.Type,
		Subject:  m.Subject,
		Body:     m.Body,
		Stanza:   m,
	}
	if m.Type == stanza.GroupChatMessage {
		c.bus.Emit(event.GroupchatMessage, payload)
		return nil
	}
	c.bus.Emit(event.ChatMessage, payload)
	return nil
}
