// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package version implements XEP-0092: Software Version.
package version // import "mellium.im/keelsbot/version"

import (
	"context"
	"encoding/xml"
	"runtime"
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
	// NS is the XML namespace used by software version queries.
	// It is provided as a convenience.
	NS = ns.Version

	// Name is the name the plugin is registered under.
	Name = "version"
)

// Query is the payload of a software version query or response.
type Query struct {
	XMLName xml.Name `xml:"jabber:iq:version query"`
	Name    string   `xml:"name,omitempty" toml:"name"`
	Version string   `xml:"version,omitempty" toml:"version"`
	OS      string   `xml:"os,omitempty" toml:"os"`
}

// TokenReader implements xmlstream.Marshaler.
func (q Query) TokenReader() xml.TokenReader {
	var payloads []xml.TokenReader
	if q.Name != "" {
		payloads = append(payloads, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(q.Name)),
			xml.StartElement{Name: xml.Name{Local: "name"}},
		))
	}
	if q.Version != "" {
		payloads = append(payloads, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(q.Version)),
			xml.StartElement{Name: xml.Name{Local: "version"}},
		))
	}
	if q.OS != "" {
		payloads = append(payloads, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(q.OS)),
			xml.StartElement{Name: xml.Name{Local: "os"}},
		))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(payloads...),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "query"}},
	)
}

// WriteXML implements xmlstream.WriterTo.
func (q Query) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, q.TokenReader())
}

// Element returns the query as an element tree.
func (q Query) Element() *element.Element {
	e := element.New(NS, "query")
	e.AppendText(NS, "name", q.Name)
	e.AppendText(NS, "version", q.Version)
	e.AppendText(NS, "os", q.OS)
	return e
}

// DecodeQuery reads a software version payload.
func DecodeQuery(e *element.Element) (Query, error) {
	var q Query
	err := xml.NewTokenDecoder(e.TokenReader()).Decode(&q)
	return q, err
}

// Factory returns the plugin factory.
// The software name and version are taken from the configuration block and
// default to def. An empty OS is replaced by the name of the running
// operating system.
func Factory(def Query) plugin.Factory {
	return plugin.Factory{
		Name:     Name,
		Requires: []string{disco.Name},
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			q := def
			if err := cfg.Decode(&q); err != nil {
				return nil, err
			}
			if q.OS == "" {
				q.OS = runtime.GOOS
			}
			return New(h, q), nil
		},
	}
}

// Version is the software version plugin.
type Version struct {
	h     plugin.Host
	query Query
}

// New creates the plugin and registers its handler with h.
func New(h plugin.Host, q Query) *Version {
	v := &Version{h: h, query: q}
	if d, ok := h.Peer(disco.Name); ok {
		h.Cleanup(d.(*disco.Disco).AddFeature(NS))
	}
	h.Handle(mask.IQ(string(stanza.GetIQ), xml.Name{Space: NS, Local: "query"}), mux.IQHandler(v.handle))
	return v
}

func (v *Version) handle(iq stanza.IQ) error {
	return v.h.Send(iq.Result(v.query.Element()).Element())
}

// Get requests the software version of the provided entity.
// It blocks until a response is received.
func (v *Version) Get(ctx context.Context, to jid.JID, timeout time.Duration) (Query, error) {
	iq := stanza.NewIQ(stanza.GetIQ, to, v.h.NewID(), element.New(NS, "query"))
	reply, err := v.h.SendIQ(ctx, iq, timeout)
	if err != nil {
		return Query{}, err
	}
	if reply.Payload == nil || !reply.Payload.Is(NS, "query") {
		return Query{}, nil
	}
	return DecodeQuery(reply.Payload)
}
