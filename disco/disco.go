// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package disco implements service discovery as a plugin.
//
// The plugin answers disco#info and disco#items requests with the identities,
// features and items that other plugins add to it, and can query remote
// entities.
package disco // import "mellium.im/keelsbot/disco"

import (
	"encoding/xml"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
)

// Namespaces used by this package.
const (
	NSInfo  = ns.DiscoInfo
	NSItems = ns.DiscoItems
)

// Name is the name the plugin is registered under.
const Name = "disco"

// Identity is the type and category of a node on the network.
type Identity struct {
	Category string
	Type     string
	Name     string
	Lang     string
}

// Element encodes the identity.
func (i Identity) Element() *element.Element {
	e := element.New(NSInfo, "identity").
		Set("category", i.Category).
		Set("type", i.Type).
		Set("name", i.Name)
	if i.Lang != "" {
		e.Attr = append(e.Attr, xmlLang(i.Lang))
	}
	return e
}

func (i Identity) key() string {
	return i.Category + "/" + i.Type + "/" + i.Lang + "/" + i.Name
}

// Item is an entity or node associated with another entity.
type Item struct {
	JID  jid.JID
	Name string
	Node string
}

// Element encodes the item.
func (i Item) Element() *element.Element {
	return element.New(NSItems, "item").
		Set("jid", i.JID.String()).
		Set("node", i.Node).
		Set("name", i.Name)
}

// Info is the result of a disco#info query.
type Info struct {
	Node       string
	Identities []Identity
	Features   []string
}

// HasFeature reports whether the feature var is advertised.
func (info Info) HasFeature(v string) bool {
	for _, f := range info.Features {
		if f == v {
			return true
		}
	}
	return false
}

// Element encodes the info as a query payload.
func (info Info) Element() *element.Element {
	q := element.New(NSInfo, "query").Set("node", info.Node)
	for _, i := range info.Identities {
		q.Append(i.Element())
	}
	for _, f := range info.Features {
		q.Append(element.New(NSInfo, "feature").Set("var", f))
	}
	return q
}

// DecodeInfo reads the payload of a disco#info result.
func DecodeInfo(q *element.Element) Info {
	info := Info{Node: q.Get("node")}
	for _, c := range q.FindAll(NSInfo, "identity") {
		info.Identities = append(info.Identities, Identity{
			Category: c.Get("category"),
			Type:     c.Get("type"),
			Name:     c.Get("name"),
			Lang:     c.Get("lang"),
		})
	}
	for _, c := range q.FindAll(NSInfo, "feature") {
		if v := c.Get("var"); v != "" {
			info.Features = append(info.Features, v)
		}
	}
	return info
}

// DecodeItems reads the payload of a disco#items result.
// Items with an invalid address are skipped.
func DecodeItems(q *element.Element) []Item {
	var items []Item
	for _, c := range q.FindAll(NSItems, "item") {
		j, err := jid.Parse(c.Get("jid"))
		if err != nil {
			continue
		}
		items = append(items, Item{JID: j, Name: c.Get("name"), Node: c.Get("node")})
	}
	return items
}

func xmlLang(v string) xml.Attr {
	return xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: v}
}
