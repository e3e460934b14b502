// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"strconv"
	"strings"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
)

// PresenceType is the type of a presence stanza.
// It should normally be one of the constants defined in this package.
type PresenceType string

const (
	// AvailablePresence is a special case that signals that the entity is
	// available for communication.
	AvailablePresence PresenceType = ""

	// ErrorPresence indicates that an error has occurred regarding processing of
	// a previously sent presence stanza.
	ErrorPresence PresenceType = "error"

	// ProbePresence is a request for an entity's current presence.
	ProbePresence PresenceType = "probe"

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence indicates that the sender has allowed the recipient to
	// receive future presence broadcasts.
	SubscribedPresence PresenceType = "subscribed"

	// UnavailablePresence indicates that the sender is no longer available for
	// communication.
	UnavailablePresence PresenceType = "unavailable"

	// UnsubscribePresence indicates that the sender is unsubscribing from the
	// receiver's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence PresenceType = "unsubscribed"
)

// Values of the show element.
const (
	ShowAway = "away"
	ShowChat = "chat"
	ShowDND  = "dnd"
	ShowXA   = "xa"
)

// Presence is an XMPP stanza that is used as an indication that an entity is
// available for communication.
type Presence struct {
	Header
	Type     PresenceType
	Show     string
	Status   string
	Priority int8
	Delay    *Delay
	Err      *Error

	// Payload holds any child elements other than those above.
	Payload []*element.Element
}

// NewPresence builds a presence stanza.
// A zero to results in broadcast presence.
func NewPresence(show, status string, priority int8, typ PresenceType, to jid.JID) Presence {
	return Presence{
		Header:   Header{To: to},
		Type:     typ,
		Show:     show,
		Status:   status,
		Priority: priority,
	}
}

// Element encodes the presence.
func (p Presence) Element() *element.Element {
	e := p.Header.apply(element.New(ns.Client, "presence"))
	e.Set("type", string(p.Type))
	e.AppendText("", "show", p.Show)
	e.AppendText("", "status", p.Status)
	if p.Priority != 0 {
		e.AppendText("", "priority", strconv.Itoa(int(p.Priority)))
	}
	if p.Delay != nil {
		e.Append(p.Delay.Element())
	}
	if p.Err != nil {
		e.Append(p.Err.Element())
	}
	for _, c := range p.Payload {
		e.Append(c)
	}
	return e
}

// DecodePresence converts an element into a Presence.
// An unparsable priority is treated as 0.
func DecodePresence(e *element.Element) (Presence, error) {
	if e == nil || !inClient(e, "presence") {
		return Presence{}, ErrNotStanza
	}
	h, err := decodeHeader(e)
	if err != nil {
		return Presence{}, err
	}
	p := Presence{
		Header: h,
		Type:   PresenceType(e.Get("type")),
	}
	for _, c := range e.Elements() {
		switch {
		case inClient(c, "show"):
			p.Show = strings.TrimSpace(c.Text())
		case inClient(c, "status"):
			if p.Status == "" {
				p.Status = c.Text()
			}
		case inClient(c, "priority"):
			if prio, err := strconv.ParseInt(strings.TrimSpace(c.Text()), 10, 8); err == nil {
				p.Priority = int8(prio)
			}
		case inClient(c, "error"):
			se := DecodeError(c)
			p.Err = &se
		case isDelay(c):
			if d, err := DecodeDelay(c); err == nil {
				p.Delay = &d
			}
		default:
			p.Payload = append(p.Payload, c)
		}
	}
	return p, nil
}
