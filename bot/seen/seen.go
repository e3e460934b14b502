// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package seen remembers when people were last active in rooms.
//
// The plugin records every groupchat message and occupant presence and adds
// the seen and whowas commands to the bot.
package seen // import "mellium.im/keelsbot/bot/seen"

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/muc"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
	"mellium.im/keelsbot/storage"
)

// Name is the name of the plugin.
const Name = "seen"

// Kind is the type of the last recorded activity.
type Kind int

// Kinds of activity.
const (
	Said Kind = iota + 1
	Present
	Left
)

var migrations = storage.Migrations{
	{
		Version: 1,
		Up: `
CREATE TABLE seen (
	room    TEXT NOT NULL,
	folded  TEXT NOT NULL,
	nick    TEXT NOT NULL,
	at      INTEGER NOT NULL,
	kind    INTEGER NOT NULL,
	text    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (room, folded)
);
CREATE INDEX seen_folded ON seen (folded, at);
CREATE TABLE whowas (
	room    TEXT NOT NULL,
	folded  TEXT NOT NULL,
	nick    TEXT NOT NULL,
	jid     TEXT NOT NULL,
	at      INTEGER NOT NULL,
	PRIMARY KEY (room, folded, jid)
);`,
		Down: `
DROP TABLE whowas;
DROP INDEX seen_folded;
DROP TABLE seen;`,
	},
}

const (
	upsertSeen = `
INSERT INTO seen (room, folded, nick, at, kind, text) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (room, folded) DO UPDATE SET
		nick=excluded.nick, at=excluded.at, kind=excluded.kind, text=excluded.text
	WHERE excluded.at >= seen.at`
	upsertWhowas = `
INSERT INTO whowas (room, folded, nick, jid, at) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (room, folded, jid) DO UPDATE SET nick=excluded.nick, at=excluded.at
	WHERE excluded.at >= whowas.at`
	selectSeen = `
SELECT room, nick, at, kind, text FROM seen
	WHERE folded=?
	ORDER BY at DESC
	LIMIT 1`
	selectWhowas = `
SELECT room, nick, jid, at FROM whowas
	WHERE folded=?
	ORDER BY at DESC
	LIMIT ?`
)

// Activity is the last thing someone was seen doing.
type Activity struct {
	Room jid.JID
	Nick string
	At   time.Time
	Kind Kind

	// Text is the message body or presence status.
	Text string
}

// Identity is a real address a nickname was used from.
type Identity struct {
	Room jid.JID
	Nick string
	JID  jid.JID
	At   time.Time
}

// Seen is the plugin.
type Seen struct {
	h   plugin.Host
	db  storage.Store
	now func() time.Time
}

// Factory returns the plugin factory.
// Commands are added to cmds and activity is stored in db.
func Factory(cmds bot.Commands, db storage.Store) plugin.Factory {
	return plugin.Factory{
		Name: Name,
		New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
			return New(context.Background(), h, cmds, db, time.Now)
		},
	}
}

// New migrates the tables of the plugin and starts recording activity.
func New(ctx context.Context, h plugin.Host, cmds bot.Commands, db storage.Store, now func() time.Time) (*Seen, error) {
	if err := db.Migrate(ctx, Name, migrations); err != nil {
		return nil, err
	}
	s := &Seen{h: h, db: db, now: now}
	h.On(event.GroupchatMessage, event.Typed(s.handleMessage), event.Concurrent())
	h.On(event.GroupchatPresence, event.Typed(s.handlePresence), event.Concurrent())
	h.Cleanup(cmds.AddCommand(bot.Command{
		Name:    "seen",
		Summary: "Last seen",
		Help:    "Tells when someone was last seen in a room.",
		Usage:   "seen <nick>",
		Run:     s.seen,
	}))
	h.Cleanup(cmds.AddCommand(bot.Command{
		Name:    "whowas",
		Summary: "Who was",
		Help:    "Lists the addresses a nickname was last used from.",
		Usage:   "whowas <nick>",
		Level:   bot.LevelAdmin,
		Run:     s.whowas,
	}))
	return s, nil
}

func fold(nick string) string {
	return cases.Fold().String(nick)
}

func (s *Seen) handleMessage(m event.Message) {
	if m.Resource == "" || m.Body == "" {
		return
	}
	at := s.now()
	if d := m.Stanza.Delay; d != nil && !d.Stamp.IsZero() {
		at = d.Stamp
	}
	err := s.Record(context.Background(), Activity{
		Room: m.JID,
		Nick: m.Resource,
		At:   at,
		Kind: Said,
		Text: m.Body,
	})
	if err != nil {
		s.h.Logger().Printf("seen: error recording message from %s: %v", m.Stanza.From, err)
	}
}

func (s *Seen) handlePresence(p event.Presence) {
	if p.Resource == "" {
		return
	}
	a := Activity{
		Room: p.JID,
		Nick: p.Resource,
		At:   s.now(),
		Kind: Present,
		Text: p.Status,
	}
	if p.Stanza.Type == stanza.UnavailablePresence {
		a.Kind = Left
	}
	ctx := context.Background()
	if err := s.Record(ctx, a); err != nil {
		s.h.Logger().Printf("seen: error recording presence of %s: %v", p.Stanza.From, err)
	}
	if addr, ok := realJID(p.Stanza); ok {
		err := s.RecordIdentity(ctx, Identity{Room: p.JID, Nick: p.Resource, JID: addr, At: a.At})
		if err != nil {
			s.h.Logger().Printf("seen: error recording address of %s: %v", p.Stanza.From, err)
		}
	}
}

// realJID returns the bare address a room reveals for an occupant.
func realJID(p stanza.Presence) (jid.JID, bool) {
	for _, e := range p.Payload {
		if !e.Is(muc.NSUser, "x") {
			continue
		}
		item := e.Find(muc.NSUser, "item")
		if item == nil {
			return jid.JID{}, false
		}
		j, err := jid.Parse(item.Get("jid"))
		if err != nil {
			return jid.JID{}, false
		}
		return j.Bare(), true
	}
	return jid.JID{}, false
}

// Record stores a as the latest activity of its nickname in its room unless
// newer activity is already known.
func (s *Seen) Record(ctx context.Context, a Activity) error {
	_, err := s.db.ExecContext(ctx, upsertSeen,
		a.Room.Bare().String(), fold(a.Nick), a.Nick, a.At.Unix(), int(a.Kind), a.Text)
	return err
}

// RecordIdentity stores the real address behind a nickname.
func (s *Seen) RecordIdentity(ctx context.Context, id Identity) error {
	_, err := s.db.ExecContext(ctx, upsertWhowas,
		id.Room.Bare().String(), fold(id.Nick), id.Nick, id.JID.Bare().String(), id.At.Unix())
	return err
}

// Last returns the most recent activity of a nickname in any room.
// Nicknames are compared case insensitively.
func (s *Seen) Last(ctx context.Context, nick string) (Activity, bool, error) {
	var (
		a    Activity
		room string
		at   int64
	)
	err := s.db.QueryRowContext(ctx, selectSeen, fold(nick)).Scan(&room, &a.Nick, &at, &a.Kind, &a.Text)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Activity{}, false, nil
	case err != nil:
		return Activity{}, false, err
	}
	a.Room, err = jid.Parse(room)
	if err != nil {
		return Activity{}, false, err
	}
	a.At = time.Unix(at, 0)
	return a, true, nil
}

// Identities returns up to limit addresses a nickname was used from, most
// recent first.
func (s *Seen) Identities(ctx context.Context, nick string, limit int) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx, selectWhowas, fold(nick), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []Identity
	for rows.Next() {
		var (
			id         Identity
			room, addr string
			at         int64
		)
		if err := rows.Scan(&room, &id.Nick, &addr, &at); err != nil {
			return nil, err
		}
		if id.Room, err = jid.Parse(room); err != nil {
			continue
		}
		if id.JID, err = jid.Parse(addr); err != nil {
			continue
		}
		id.At = time.Unix(at, 0)
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Seen) seen(ctx context.Context, req bot.Request) string {
	p := req.Printer
	nick := strings.TrimSpace(req.Args)
	if nick == "" {
		return p.Sprintf("Whose activity do you want to know about?")
	}
	a, ok, err := s.Last(ctx, nick)
	if err != nil {
		s.h.Logger().Printf("seen: error looking up %s: %v", nick, err)
		return p.Sprintf("Something went wrong.")
	}
	if !ok {
		return p.Sprintf("%s? I have no idea who that is.", nick)
	}
	ago := since(s.now().Sub(a.At))
	switch {
	case a.Kind == Said:
		return p.Sprintf("%s was last seen in %s %s ago, saying: %s", a.Nick, a.Room, ago, a.Text)
	case a.Kind == Left:
		return p.Sprintf("%s was last seen leaving %s %s ago.", a.Nick, a.Room, ago)
	case a.Text != "":
		return p.Sprintf("%s was last seen in %s %s ago (%s).", a.Nick, a.Room, ago, a.Text)
	}
	return p.Sprintf("%s was last seen in %s %s ago.", a.Nick, a.Room, ago)
}

func (s *Seen) whowas(ctx context.Context, req bot.Request) string {
	p := req.Printer
	nick := strings.TrimSpace(req.Args)
	if nick == "" {
		return p.Sprintf("Whose activity do you want to know about?")
	}
	ids, err := s.Identities(ctx, nick, 5)
	if err != nil {
		s.h.Logger().Printf("seen: error looking up addresses of %s: %v", nick, err)
		return p.Sprintf("Something went wrong.")
	}
	if len(ids) == 0 {
		return p.Sprintf("%s? I have no idea who that is.", nick)
	}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, p.Sprintf("%s was %s in %s %s ago.", id.Nick, id.JID, id.Room, since(s.now().Sub(id.At))))
	}
	return strings.Join(lines, "\n")
}

// since formats a duration using its two largest units.
func since(d time.Duration) string {
	units := [...]struct {
		d    time.Duration
		name string
	}{
		{30 * 24 * time.Hour, "mo"},
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}
	var parts []string
	for _, u := range units {
		n := d / u.d
		if n == 0 {
			if len(parts) > 0 {
				break
			}
			continue
		}
		d -= n * u.d
		parts = append(parts, strconv.FormatInt(int64(n), 10)+u.name)
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

func init() {
	err := bot.Translations(language.Czech, [][2]string{
		{"Last seen", "Naposledy viděn"},
		{"Tells when someone was last seen in a room.", "Kdy byl zadaný uživatel naposledy spatřen?"},
		{"Who was", "Kdo to byl"},
		{"Lists the addresses a nickname was last used from.", "Vypíše adresy, ze kterých byla přezdívka naposledy použita."},
		{"Whose activity do you want to know about?", "Lamo! Musíš napsat, o kom chceš informace! ;-)"},
		{"Something went wrong.", "Něco se pokazilo."},
		{"%s? I have no idea who that is.", "%s? Vůbec nevím, o kom je řeč..."},
		{"%s was last seen in %s %s ago, saying: %s", "%s byl naposledy viděn v místnosti %s před %s, když psal: %s"},
		{"%s was last seen leaving %s %s ago.", "%s naposledy odešel z místnosti %s před %s."},
		{"%s was last seen in %s %s ago (%s).", "%s byl naposledy viděn v místnosti %s před %s (%s)."},
		{"%s was last seen in %s %s ago.", "%s byl naposledy viděn v místnosti %s před %s."},
		{"%s was %s in %s %s ago.", "%s byl %s v místnosti %s před %s."},
	})
	if err != nil {
		panic(err)
	}
}
