// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package muc implements the client side of Multi-User Chat.
//
// The plugin joins and leaves rooms and keeps track of the occupants of every
// joined room from the presence the room sends, emitting groupchat_presence
// for each occupant update.
// Occupant lists are cleared when the connection is lost; the rooms
// themselves are remembered so that they can be joined again.
package muc // import "mellium.im/keelsbot/muc"

import (
	"errors"
	"sort"
	"strconv"
	"sync"

	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/roster"
	"mellium.im/keelsbot/stanza"
)

// Namespaces used by this package.
const (
	NS     = ns.MUC
	NSUser = ns.MUCUser
)

// Name is the name the plugin is registered under.
const Name = "muc"

// Status codes used by the plugin.
const (
	StatusSelf       = 110
	StatusNickChange = 303
)

// ErrNotJoined is returned when acting on a room that was never joined.
var ErrNotJoined = errors.New("muc: not in room")

// Occupant is a participant in a room.
// JID is the real address of the occupant if the room exposes it.
type Occupant struct {
	Nick        string
	JID         jid.JID
	Affiliation Affiliation
	Role        Role
	Show        string
	Status      string
}

type room struct {
	nick      string
	password  string
	joined    bool
	occupants map[string]Occupant
}

// Config is the configuration block of the plugin.
type Config struct {
	// History is the number of messages of history requested when joining.
	History int `toml:"history"`
}

// Factory returns the plugin factory.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:     Name,
		Requires: []string{disco.Name},
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			var c Config
			if err := cfg.Decode(&c); err != nil {
				return nil, err
			}
			return New(h, c), nil
		},
	}
}

// MUC is the multi-user chat plugin.
type MUC struct {
	h   plugin.Host
	cfg Config

	mu    sync.Mutex
	rooms map[string]*room
}

// New creates the plugin and registers its handlers with h.
func New(h plugin.Host, cfg Config) *MUC {
	m := &MUC{
		h:     h,
		cfg:   cfg,
		rooms: make(map[string]*room),
	}
	if d, ok := h.Peer(disco.Name); ok {
		h.Cleanup(d.(*disco.Disco).AddFeature(NS))
	}
	h.Handle(mask.Presence(), mux.PresenceHandler(m.handlePresence))
	h.On(event.Disconnected, func(any) { m.reset() })
	return m
}

// Join requests to join a room with the given nickname.
// The room is tracked from this point on; it counts as joined once the room
// reflects our own presence.
// Joining a room that is already known sends presence again, which is how a
// client rejoins after a reconnect.
func (m *MUC) Join(roomJID jid.JID, nick, password string) error {
	roomJID = roomJID.Bare()
	to, err := roomJID.WithResource(nick)
	if err != nil {
		return err
	}
	m.mu.Lock()
	r, ok := m.rooms[roomJID.String()]
	if !ok {
		r = &room{occupants: make(map[string]Occupant)}
		m.rooms[roomJID.String()] = r
	}
	r.nick = nick
	r.password = password
	m.mu.Unlock()

	x := element.New(NS, "x").Append(
		element.New(NS, "history").Set("maxstanzas", strconv.Itoa(m.cfg.History)),
	)
	x.AppendText(NS, "password", password)
	p := stanza.NewPresence("", "", 0, stanza.AvailablePresence, to)
	p.Payload = append(p.Payload, x)
	m.h.Debug().Printf("muc: joining %s", to)
	return m.h.Send(p.Element())
}

// Rejoin sends presence to every known room again using the nickname and
// password it was last joined with.
func (m *MUC) Rejoin() error {
	type target struct {
		room           jid.JID
		nick, password string
	}
	var targets []target
	m.mu.Lock()
	for k, r := range m.rooms {
		j, err := jid.Parse(k)
		if err != nil {
			continue
		}
		targets = append(targets, target{room: j, nick: r.nick, password: r.password})
	}
	m.mu.Unlock()

	var errs []error
	for _, t := range targets {
		errs = append(errs, m.Join(t.room, t.nick, t.password))
	}
	return errors.Join(errs...)
}

// Leave sends unavailable presence to a room and forgets it.
func (m *MUC) Leave(roomJID jid.JID, status string) error {
	roomJID = roomJID.Bare()
	m.mu.Lock()
	r, ok := m.rooms[roomJID.String()]
	delete(m.rooms, roomJID.String())
	m.mu.Unlock()
	if !ok {
		return ErrNotJoined
	}
	to, err := roomJID.WithResource(r.nick)
	if err != nil {
		return err
	}
	return m.h.Send(stanza.NewPresence("", status, 0, stanza.UnavailablePresence, to).Element())
}

// Rooms returns the addresses of all known rooms in sorted order.
func (m *MUC) Rooms() []jid.JID {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.rooms))
	for k := range m.rooms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rooms := make([]jid.JID, 0, len(keys))
	for _, k := range keys {
		if j, err := jid.Parse(k); err == nil {
			rooms = append(rooms, j)
		}
	}
	return rooms
}

// IsRoom reports whether j is the bare address of a known room.
func (m *MUC) IsRoom(j jid.JID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[j.Bare().String()]
	return ok
}

// Joined reports whether the room has confirmed that we are an occupant.
func (m *MUC) Joined(roomJID jid.JID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomJID.Bare().String()]
	return ok && r.joined
}

// Nick returns our nickname in a room.
func (m *MUC) Nick(roomJID jid.JID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomJID.Bare().String()]
	if !ok {
		return "", false
	}
	return r.nick, true
}

// Occupant returns an occupant of a room.
func (m *MUC) Occupant(roomJID jid.JID, nick string) (Occupant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomJID.Bare().String()]
	if !ok {
		return Occupant{}, false
	}
	o, ok := r.occupants[nick]
	return o, ok
}

// Occupants returns the occupants of a room sorted by nickname.
func (m *MUC) Occupants(roomJID jid.JID) []Occupant {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomJID.Bare().String()]
	if !ok {
		return nil
	}
	out := make([]Occupant, 0, len(r.occupants))
	for _, o := range r.occupants {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

func (m *MUC) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		r.joined = false
		clear(r.occupants)
	}
}

type userInfo struct {
	item    *element.Element
	codes   map[int]bool
	present bool
}

func decodeUser(p stanza.Presence) userInfo {
	var u userInfo
	for _, e := range p.Payload {
		if !e.Is(NSUser, "x") {
			continue
		}
		u.present = true
		u.item = e.Find(NSUser, "item")
		u.codes = make(map[int]bool)
		for _, s := range e.FindAll(NSUser, "status") {
			if code, err := strconv.Atoi(s.Get("code")); err == nil {
				u.codes[code] = true
			}
		}
	}
	return u
}

func (m *MUC) handlePresence(p stanza.Presence) error {
	roomJID := p.From.Bare()
	key := roomJID.String()
	nick := p.From.Resourcepart()

	m.mu.Lock()
	r, ok := m.rooms[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	if p.Type == stanza.ErrorPresence {
		if r.joined {
			m.mu.Unlock()
			return nil
		}
		delete(m.rooms, key)
		m.mu.Unlock()
		m.h.Logger().Printf("muc: could not join %s: %v", roomJID, p.Err)
		return nil
	}
	if p.Type != stanza.AvailablePresence && p.Type != stanza.UnavailablePresence {
		m.mu.Unlock()
		return nil
	}

	u := decodeUser(p)
	self := u.codes[StatusSelf] || nick == r.nick
	o := Occupant{
		Nick:   nick,
		Show:   roster.ShowOf(p),
		Status: p.Status,
	}
	if u.item != nil {
		o.Affiliation = ParseAffiliation(u.item.Get("affiliation"))
		o.Role = ParseRole(u.item.Get("role"))
		if addr := u.item.Get("jid"); addr != "" {
			o.JID, _ = jid.Parse(addr)
		}
	}

	var left bool
	switch {
	case p.Type == stanza.UnavailablePresence && u.codes[StatusNickChange]:
		delete(r.occupants, nick)
		if self && u.item != nil && u.item.Get("nick") != "" {
			r.nick = u.item.Get("nick")
		}
	case p.Type == stanza.UnavailablePresence:
		delete(r.occupants, nick)
		if self {
			delete(m.rooms, key)
			left = true
		}
	default:
		r.occupants[nick] = o
		if self {
			r.joined = true
			r.nick = nick
		}
	}
	m.mu.Unlock()

	if left {
		m.h.Logger().Printf("muc: no longer in %s", roomJID)
	}
	m.h.Emit(event.GroupchatPresence, event.Presence{
		JID:      roomJID,
		Resource: nick,
		Name:     nick,
		Show:     o.Show,
		Status:   o.Status,
		Priority: p.Priority,
		Stanza:   p,
	})
	return nil
}
