// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/stanza"
)

// MessageHandler is a Handler that receives decoded message stanzas.
// Elements that are not messages, or that fail to decode, result in an error.
type MessageHandler func(msg stanza.Message) error

// HandleElement decodes e and calls f.
func (f MessageHandler) HandleElement(e *element.Element) error {
	msg, err := stanza.DecodeMessage(e)
	if err != nil {
		return err
	}
	return f(msg)
}

// PresenceHandler is a Handler that receives decoded presence stanzas.
type PresenceHandler func(p stanza.Presence) error

// HandleElement decodes e and calls f.
func (f PresenceHandler) HandleElement(e *element.Element) error {
	p, err := stanza.DecodePresence(e)
	if err != nil {
		return err
	}
	return f(p)
}

// IQHandler is a Handler that receives decoded IQ stanzas.
type IQHandler func(iq stanza.IQ) error

// HandleElement decodes e and calls f.
func (f IQHandler) HandleElement(e *element.Element) error {
	iq, err := stanza.DecodeIQ(e)
	if err != nil {
		return err
	}
	return f(iq)
}
