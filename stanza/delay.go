// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/jid"
)

// Namespaces used for delayed delivery.
const (
	NSDelay       = "urn:xmpp:delay"
	NSLegacyDelay = "jabber:x:delay"
)

const legacyStamp = "20060102T15:04:05"

// Delay can be added to a stanza to indicate that stanza delivery was delayed.
// For example, when you join a chat and request history, a delay is added to
// indicate that the chat messages were sent in the past and are not live.
type Delay struct {
	From   jid.JID
	Stamp  time.Time
	Reason string
}

// Element encodes the delay using the current (XEP-0203) format.
func (d Delay) Element() *element.Element {
	e := element.New(NSDelay, "delay").
		Set("stamp", d.Stamp.UTC().Format(time.RFC3339Nano)).
		SetText(d.Reason)
	if !d.From.IsZero() {
		e.Set("from", d.From.String())
	}
	return e
}

func isDelay(e *element.Element) bool {
	return e.Is(NSDelay, "delay") || e.Is(NSLegacyDelay, "x")
}

// DecodeDelay reads a delay element in either the current or the legacy
// (XEP-0091) format.
func DecodeDelay(e *element.Element) (Delay, error) {
	var (
		d   Delay
		err error
	)
	if from := e.Get("from"); from != "" {
		if d.From, err = jid.Parse(from); err != nil {
			return d, err
		}
	}
	layout := time.RFC3339Nano
	if e.Name.Space == NSLegacyDelay {
		layout = legacyStamp
	}
	if d.Stamp, err = time.Parse(layout, e.Get("stamp")); err != nil {
		return d, err
	}
	d.Reason = e.Text()
	return d, nil
}
