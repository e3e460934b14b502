// Copyright 2018 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package roster implements contact list functionality.
//
// A Roster caches the items received from the server along with the presence
// of each of their resources.
// It does not talk to the network itself: the engine feeds it roster results,
// roster pushes and presence and turns the changes it reports into events.
package roster // import "mellium.im/keelsbot/roster"

import (
	"errors"
	"sort"
	"sync"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/stanza"
)

// Namespaces used by this package provided as a convenience.
const (
	NS = "jabber:iq:roster"
)

// Subscription states.
const (
	SubNone   = "none"
	SubTo     = "to"
	SubFrom   = "from"
	SubBoth   = "both"
	SubRemove = "remove"
)

// Item represents a contact in the roster.
type Item struct {
	JID          jid.JID
	Name         string
	Subscription string
	Ask          string
	Groups       []string
}

// Element encodes the item as it appears inside a roster query.
func (item Item) Element() *element.Element {
	e := element.New(NS, "item").
		Set("jid", item.JID.String()).
		Set("name", item.Name).
		Set("subscription", item.Subscription)
	for _, g := range item.Groups {
		e.AppendText("", "group", g)
	}
	return e
}

// DecodeItem reads an <item/> element.
func DecodeItem(e *element.Element) (Item, error) {
	j, err := jid.Parse(e.Get("jid"))
	if err != nil {
		return Item{}, err
	}
	item := Item{
		JID:          j.Bare(),
		Name:         e.Get("name"),
		Subscription: e.Get("subscription"),
		Ask:          e.Get("ask"),
	}
	if item.Subscription == "" {
		item.Subscription = SubNone
	}
	for _, g := range e.FindAll("", "group") {
		if t := g.Text(); t != "" {
			item.Groups = append(item.Groups, t)
		}
	}
	return item, nil
}

// ErrNoQuery is returned when an IQ does not contain a roster query.
var ErrNoQuery = errors.New("roster: IQ has no roster query")

// FetchIQ returns a request for the full roster.
func FetchIQ(id string) stanza.IQ {
	return stanza.NewIQ(stanza.GetIQ, jid.JID{}, id, element.New(NS, "query"))
}

// SetIQ returns a request that adds or changes an item.
// Setting Subscription to SubRemove removes the contact.
func SetIQ(id string, item Item) stanza.IQ {
	if item.Subscription != SubRemove {
		item.Subscription = ""
	}
	return stanza.NewIQ(stanza.SetIQ, jid.JID{}, id, element.New(NS, "query").Append(item.Element()))
}

// DecodeQuery returns the items in a roster result or push.
// Items with unparsable addresses are skipped.
func DecodeQuery(iq stanza.IQ) ([]Item, error) {
	if !iq.Payload.Is(NS, "query") {
		return nil, ErrNoQuery
	}
	var items []Item
	for _, c := range iq.Payload.FindAll("", "item") {
		item, err := DecodeItem(c)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Resource is the last presence received from one resource of a contact.
type Resource struct {
	Show     string
	Status   string
	Priority int8
}

// Entry is a contact as tracked by the Roster.
// InRoster is false for addresses we only know from their presence.
type Entry struct {
	Item
	InRoster  bool
	Resources map[string]Resource
}

// Online reports whether any resource of the contact is available.
func (e Entry) Online() bool {
	return len(e.Resources) > 0
}

func (e *Entry) copy() Entry {
	c := *e
	c.Groups = append([]string(nil), e.Groups...)
	c.Resources = make(map[string]Resource, len(e.Resources))
	for k, v := range e.Resources {
		c.Resources[k] = v
	}
	return c
}

// Roster is a concurrency safe contact list.
// The zero value is ready to use.
type Roster struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func (r *Roster) entry(j jid.JID) *Entry {
	if r.entries == nil {
		r.entries = make(map[string]*Entry)
	}
	key := j.Bare().String()
	e, ok := r.entries[key]
	if !ok {
		e = &Entry{Item: Item{JID: j.Bare(), Subscription: SubNone}, Resources: make(map[string]Resource)}
		r.entries[key] = e
	}
	return e
}

// Update applies items from a roster result or push and returns the items that
// were added or changed.
// An item with the subscription "remove" deletes the contact.
func (r *Roster) Update(items []Item) []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Subscription == SubRemove {
			if _, ok := r.entries[item.JID.Bare().String()]; ok {
				delete(r.entries, item.JID.Bare().String())
				changed = append(changed, item)
			}
			continue
		}
		e := r.entry(item.JID)
		e.Item = item
		e.Item.Groups = append([]string(nil), item.Groups...)
		e.InRoster = true
		changed = append(changed, item)
	}
	return changed
}

// Change describes the effect of a presence stanza on the roster.
type Change uint8

// Possible changes.
const (
	NoChange Change = iota
	CameOnline
	WentOffline
	StatusChanged
)

// Presence updates the resource that sent p.
// Only available and unavailable presence is considered; subscription
// management and errors result in NoChange.
func (r *Roster) Presence(p stanza.Presence) Change {
	if p.From.IsZero() || (p.Type != stanza.AvailablePresence && p.Type != stanza.UnavailablePresence) {
		return NoChange
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(p.From)
	res := p.From.Resourcepart()
	old, wasOnline := e.Resources[res]

	if p.Type == stanza.UnavailablePresence {
		if !wasOnline {
			return NoChange
		}
		delete(e.Resources, res)
		return WentOffline
	}

	cur := Resource{Show: ShowOf(p), Status: p.Status, Priority: p.Priority}
	e.Resources[res] = cur
	switch {
	case !wasOnline:
		return CameOnline
	case old != cur:
		return StatusChanged
	}
	return NoChange
}

// ShowOf returns the show value of a presence, using "available" and
// "unavailable" when the stanza has none.
func ShowOf(p stanza.Presence) string {
	switch {
	case p.Type == stanza.UnavailablePresence:
		return "unavailable"
	case p.Show == "":
		return "available"
	}
	return p.Show
}

// ClearPresence forgets every resource, as when the session is lost.
func (r *Roster) ClearPresence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		clear(e.Resources)
	}
}

// Get returns a copy of the entry for the bare address of j.
func (r *Roster) Get(j jid.JID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[j.Bare().String()]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

// Name returns the display name of a contact or the empty string.
func (r *Roster) Name(j jid.JID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[j.Bare().String()]; ok {
		return e.Name
	}
	return ""
}

// Entries returns a copy of every entry sorted by address.
func (r *Roster) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JID.String() < out[j].JID.String()
	})
	return out
}
