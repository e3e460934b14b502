// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xtime implements XEP-0202: Entity Time and the date and time
// profiles of XEP-0082.
package xtime // import "mellium.im/keelsbot/xtime"

import (
	"context"
	"encoding/xml"
	"errors"
	"time"

	"mellium.im/xmlstream"

	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

const (
	// NS is the XML namespace used by XMPP entity time requests.
	// It is provided as a convenience.
	NS = ns.Time

	// Name is the name the plugin is registered under.
	Name = "time"

	// LegacyDateTime implements the legacy profile mentioned in XEP-0082.
	//
	// Unless you are implementing an older XEP that specifically calls for this
	// format, time.RFC3339 should be used instead.
	LegacyDateTime = "20060102T15:04:05"
)

const tzd = "Z07:00"

// ErrNoTime is returned by Get if the response does not carry a time.
var ErrNoTime = errors.New("xtime: response has no time payload")

// Time is like a time.Time but it can be marshaled as an XEP-0202 time payload.
type Time struct {
	time.Time
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (t Time) TokenReader() xml.TokenReader {
	tzo := t.Format(tzd)
	utcTime := t.UTC().Format(time.RFC3339)

	return xmlstream.Wrap(
		xmlstream.MultiReader(
			xmlstream.Wrap(xmlstream.Token(xml.CharData(tzo)), xml.StartElement{Name: xml.Name{Local: "tzo"}}),
			xmlstream.Wrap(xmlstream.Token(xml.CharData(utcTime)), xml.StartElement{Name: xml.Name{Local: "utc"}}),
		),
		xml.StartElement{Name: xml.Name{Local: "time", Space: NS}},
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (t Time) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, t.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (t Time) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := t.WriteXML(e)
	return err
}

// Element returns the time payload as an element tree.
func (t Time) Element() *element.Element {
	e := element.New(NS, "time")
	e.Append(element.New(NS, "tzo").SetText(t.Format(tzd)))
	e.Append(element.New(NS, "utc").SetText(t.UTC().Format(time.RFC3339)))
	return e
}

// Decode parses a time payload.
// The result is in the time zone given by its tzo child.
func Decode(e *element.Element) (Time, error) {
	if e == nil || !e.Is(NS, "time") {
		return Time{}, ErrNoTime
	}
	zone, err := time.Parse(tzd, e.ChildText(NS, "tzo"))
	if err != nil {
		return Time{}, err
	}
	utcTime, err := time.Parse(time.RFC3339, e.ChildText(NS, "utc"))
	if err != nil {
		return Time{}, err
	}
	return Time{Time: utcTime.In(zone.Location())}, nil
}

// Factory returns the plugin factory.
// If now is nil, time.Now is used.
func Factory(now func() time.Time) plugin.Factory {
	return plugin.Factory{
		Name:     Name,
		Requires: []string{disco.Name},
		New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
			return New(h, now), nil
		},
	}
}

// Clock answers entity time requests and queries the time of others.
type Clock struct {
	h   plugin.Host
	now func() time.Time
}

// New creates the plugin and registers its handler with h.
func New(h plugin.Host, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	c := &Clock{h: h, now: now}
	if d, ok := h.Peer(disco.Name); ok {
		h.Cleanup(d.(*disco.Disco).AddFeature(NS))
	}
	h.Handle(mask.IQ(string(stanza.GetIQ), xml.Name{Space: NS, Local: "time"}), mux.IQHandler(c.handle))
	return c
}

func (c *Clock) handle(iq stanza.IQ) error {
	return c.h.Send(iq.Result(Time{Time: c.now()}.Element()).Element())
}

// Get sends a request to the provided JID asking for its time.
func (c *Clock) Get(ctx context.Context, to jid.JID, timeout time.Duration) (time.Time, error) {
	iq := stanza.NewIQ(stanza.GetIQ, to, c.h.NewID(), element.New(NS, "time"))
	reply, err := c.h.SendIQ(ctx, iq, timeout)
	if err != nil {
		return time.Time{}, err
	}
	if reply.Err != nil {
		return time.Time{}, *reply.Err
	}
	t, err := Decode(reply.Payload)
	return t.Time, err
}
