// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"errors"
	"fmt"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
)

// Kind identifies which of the three stanza types a Stanza holds.
type Kind uint8

// The stanza kinds.
const (
	KindMessage Kind = iota + 1
	KindPresence
	KindIQ
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPresence:
		return "presence"
	case KindIQ:
		return "iq"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ErrNotStanza is returned when decoding an element that is not a message,
// presence, or iq.
var ErrNotStanza = errors.New("stanza: element is not a stanza")

// Is tests whether name is a valid stanza based on name and space.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == ns.Client || name.Space == "")
}

// Header holds the attributes common to every stanza.
type Header struct {
	ID   string
	From jid.JID
	To   jid.JID
	Lang string
}

func (h Header) apply(e *element.Element) *element.Element {
	e.Set("id", h.ID)
	if !h.To.IsZero() {
		e.Set("to", h.To.String())
	}
	if !h.From.IsZero() {
		e.Set("from", h.From.String())
	}
	if h.Lang != "" {
		e.Attr = append(e.Attr, langAttr(h.Lang))
	}
	return e
}

func decodeHeader(e *element.Element) (Header, error) {
	h := Header{ID: e.Get("id")}
	var err error
	for _, a := range e.Attr {
		switch {
		case a.Name.Space == "" && a.Name.Local == "from" && a.Value != "":
			if h.From, err = jid.Parse(a.Value); err != nil {
				return h, fmt.Errorf("stanza: bad from attribute: %w", err)
			}
		case a.Name.Space == "" && a.Name.Local == "to" && a.Value != "":
			if h.To, err = jid.Parse(a.Value); err != nil {
				return h, fmt.Errorf("stanza: bad to attribute: %w", err)
			}
		case a.Name.Space == ns.XML && a.Name.Local == "lang":
			h.Lang = a.Value
		}
	}
	return h, nil
}

// Stanza is the tagged union of Message, Presence and IQ.
// Exactly one of the pointers is set, as indicated by Kind.
type Stanza struct {
	Kind     Kind
	Message  *Message
	Presence *Presence
	IQ       *IQ
}

// Header returns the common attributes of whichever stanza is held.
func (s Stanza) Header() Header {
	switch s.Kind {
	case KindMessage:
		return s.Message.Header
	case KindPresence:
		return s.Presence.Header
	case KindIQ:
		return s.IQ.Header
	}
	return Header{}
}

// Decode converts an element into its typed form.
func Decode(e *element.Element) (Stanza, error) {
	if e == nil || !Is(e.Name) {
		return Stanza{}, ErrNotStanza
	}
	switch e.Name.Local {
	case "message":
		m, err := DecodeMessage(e)
		return Stanza{Kind: KindMessage, Message: &m}, err
	case "presence":
		p, err := DecodePresence(e)
		return Stanza{Kind: KindPresence, Presence: &p}, err
	default:
		iq, err := DecodeIQ(e)
		return Stanza{Kind: KindIQ, IQ: &iq}, err
	}
}

// inClient reports whether a child has the given local name in the
// jabber:client namespace or in no namespace at all (locally built children
// inherit the namespace of their parent).
func inClient(e *element.Element, local string) bool {
	return e.Name.Local == local && (e.Name.Space == ns.Client || e.Name.Space == "")
}

func langAttr(lang string) xml.Attr {
	return xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: lang}
}
