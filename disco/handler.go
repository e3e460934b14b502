// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package disco

import (
	"context"
	"encoding/xml"
	"slices"
	"sort"
	"sync"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

// Config is the configuration block of the plugin.
type Config struct {
	Category string `toml:"category"`
	Type     string `toml:"type"`
	Name     string `toml:"name"`
}

// Factory returns the plugin factory.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name: Name,
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			c := Config{Category: "client", Type: "bot", Name: "KeelsBot"}
			if err := cfg.Decode(&c); err != nil {
				return nil, err
			}
			return New(h, Identity{Category: c.Category, Type: c.Type, Name: c.Name}), nil
		},
	}
}

// Disco is the service discovery plugin.
type Disco struct {
	h plugin.Host

	mu         sync.Mutex
	identities []Identity
	features   map[string]int
	items      []Item
	providers  []*providerEntry
}

// Provider answers queries about nodes other than the root node.
type Provider interface {
	// NodeInfo returns the info of node as seen by from.
	// It reports false if the node is not known to the provider.
	NodeInfo(from jid.JID, node string) (Info, bool)

	// NodeItems returns the items of node as seen by from.
	NodeItems(from jid.JID, node string) ([]Item, bool)
}

type providerEntry struct {
	Provider
}

// New creates the plugin and registers its handlers with h.
func New(h plugin.Host, ident Identity) *Disco {
	d := &Disco{
		h:          h,
		identities: []Identity{ident},
		features:   make(map[string]int),
	}
	d.features[NSInfo]++
	d.features[NSItems]++
	h.Handle(mask.IQ(string(stanza.GetIQ), xml.Name{Space: NSInfo, Local: "query"}), mux.IQHandler(d.handleInfo))
	h.Handle(mask.IQ(string(stanza.GetIQ), xml.Name{Space: NSItems, Local: "query"}), mux.IQHandler(d.handleItems))
	return d
}

// AddFeature advertises a feature until the returned function is called.
// A feature added more than once stays advertised until every caller has
// removed it.
func (d *Disco) AddFeature(v string) (remove func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.features[v]++
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.features[v]--; d.features[v] <= 0 {
				delete(d.features, v)
			}
		})
	}
}

// AddIdentity advertises an additional identity.
func (d *Disco) AddIdentity(i Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.ContainsFunc(d.identities, func(o Identity) bool { return o.key() == i.key() }) {
		d.identities = append(d.identities, i)
	}
}

// AddItem advertises an item.
func (d *Disco) AddItem(i Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, i)
}

// AddProvider answers node queries with p until the returned function is
// called.
// Providers are asked in the order they were added.
func (d *Disco) AddProvider(p Provider) (remove func()) {
	entry := &providerEntry{Provider: p}
	d.mu.Lock()
	d.providers = append(d.providers, entry)
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.providers = slices.DeleteFunc(d.providers, func(e *providerEntry) bool { return e == entry })
	}
}

func (d *Disco) nodeProviders() []*providerEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.providers)
}

// Info returns the identities and features of the local entity.
// Features are sorted.
func (d *Disco) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := Info{Identities: slices.Clone(d.identities)}
	for f := range d.features {
		info.Features = append(info.Features, f)
	}
	sort.Strings(info.Features)
	return info
}

func (d *Disco) handleInfo(iq stanza.IQ) error {
	node := iq.Payload.Get("node")
	if node == "" {
		return d.h.Send(iq.Result(d.Info().Element()).Element())
	}
	for _, p := range d.nodeProviders() {
		if info, ok := p.NodeInfo(iq.From, node); ok {
			info.Node = node
			return d.h.Send(iq.Result(info.Element()).Element())
		}
	}
	return d.h.Send(iq.Error(stanza.Error{
		Type:      stanza.Cancel,
		Condition: stanza.ItemNotFound,
	}).Element())
}

func (d *Disco) handleItems(iq stanza.IQ) error {
	q := element.New(NSItems, "query")
	node := iq.Payload.Get("node")
	if node == "" {
		d.mu.Lock()
		for _, i := range d.items {
			q.Append(i.Element())
		}
		d.mu.Unlock()
		return d.h.Send(iq.Result(q).Element())
	}
	q.Set("node", node)
	for _, p := range d.nodeProviders() {
		if items, ok := p.NodeItems(iq.From, node); ok {
			for _, i := range items {
				q.Append(i.Element())
			}
			break
		}
	}
	return d.h.Send(iq.Result(q).Element())
}

// GetInfo queries a remote entity for its identities and features.
func (d *Disco) GetInfo(ctx context.Context, to jid.JID, node string, timeout time.Duration) (Info, error) {
	q := element.New(NSInfo, "query").Set("node", node)
	reply, err := d.h.SendIQ(ctx, stanza.NewIQ(stanza.GetIQ, to, d.h.NewID(), q), timeout)
	if err != nil {
		return Info{}, err
	}
	if reply.Payload == nil || !reply.Payload.Is(NSInfo, "query") {
		return Info{Node: node}, nil
	}
	return DecodeInfo(reply.Payload), nil
}

// GetItems queries a remote entity for its items.
func (d *Disco) GetItems(ctx context.Context, to jid.JID, node string, timeout time.Duration) ([]Item, error) {
	q := element.New(NSItems, "query").Set("node", node)
	reply, err := d.h.SendIQ(ctx, stanza.NewIQ(stanza.GetIQ, to, d.h.NewID(), q), timeout)
	if err != nil {
		return nil, err
	}
	if reply.Payload == nil || !reply.Payload.Is(NSItems, "query") {
		return nil, nil
	}
	return DecodeItems(reply.Payload), nil
}
