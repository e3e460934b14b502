// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
)

// MessageType is the type of a message stanza.
// It should normally be one of the constants defined in this package.
type MessageType string

const (
	// NormalMessage is a standalone message that is sent outside the context of
	// a one-to-one conversation or groupchat. It is the default when no type is
	// set.
	NormalMessage MessageType = "normal"

	// ChatMessage is sent in the context of a one-to-one chat session.
	ChatMessage MessageType = "chat"

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage MessageType = "error"

	// GroupChatMessage is sent in the context of a multi-user chat environment.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage provides an alert, a notification, or other transient
	// information to which no reply is expected.
	HeadlineMessage MessageType = "headline"
)

// Message is an XMPP stanza that contains a payload for direct one-to-one
// communication with another network entity.
type Message struct {
	Header
	Type    MessageType
	Body    string
	Subject string
	Thread  string
	Delay   *Delay
	Err     *Error

	// Payload holds any child elements other than those above.
	Payload []*element.Element
}

// NewMessage builds a message addressed to to.
// An empty typ results in a chat message.
func NewMessage(to jid.JID, body, subject string, typ MessageType) Message {
	if typ == "" {
		typ = ChatMessage
	}
	return Message{
		Header:  Header{To: to},
		Type:    typ,
		Body:    body,
		Subject: subject,
	}
}

// Element encodes the message.
func (m Message) Element() *element.Element {
	e := m.Header.apply(element.New(ns.Client, "message"))
	if m.Type != "" && m.Type != NormalMessage {
		e.Set("type", string(m.Type))
	}
	e.AppendText("", "subject", m.Subject)
	e.AppendText("", "body", m.Body)
	e.AppendText("", "thread", m.Thread)
	if m.Delay != nil {
		e.Append(m.Delay.Element())
	}
	if m.Err != nil {
		e.Append(m.Err.Element())
	}
	for _, p := range m.Payload {
		e.Append(p)
	}
	return e
}

// DecodeMessage converts an element into a Message.
func DecodeMessage(e *element.Element) (Message, error) {
	if e == nil || !inClient(e, "message") {
		return Message{}, ErrNotStanza
	}
	h, err := decodeHeader(e)
	if err != nil {
		return Message{}, err
	}
	m := Message{
		Header: h,
		Type:   MessageType(e.Get("type")),
	}
	if m.Type == "" {
		m.Type = NormalMessage
	}
	for _, c := range e.Elements() {
		switch {
		case inClient(c, "body"):
			if m.Body == "" {
				m.Body = c.Text()
			}
		case inClient(c, "subject"):
			if m.Subject == "" {
				m.Subject = c.Text()
			}
		case inClient(c, "thread"):
			m.Thread = c.Text()
		case inClient(c, "error"):
			se := DecodeError(c)
			m.Err = &se
		case isDelay(c):
			if d, err := DecodeDelay(c); err == nil {
				m.Delay = &d
			}
		default:
			m.Payload = append(m.Payload, c)
		}
	}
	return m, nil
}
