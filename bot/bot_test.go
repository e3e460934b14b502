// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bot_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/xmpptest"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/muc"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

const (
	self  = "keels@example.net/bot"
	owner = "owner@example.net/phone"
	admin = "admin@example.net/desk"
	room  = "coven@chat.shakespeare.lit"
)

var groups = []bot.Group{
	{Name: "owners", Level: bot.LevelOwner, Members: []string{"owner@example.net"}},
	{Name: "admins", Level: bot.LevelAdmin, Members: []string{"admin@example.net"}},
	{Name: "banned", Level: -1, Members: []string{"troll@example.net"}},
}

func pluginConfig(t *testing.T, src string) map[string]plugin.Config {
	t.Helper()
	var raw struct {
		Plugins map[string]toml.Primitive `toml:"plugins"`
	}
	md, err := toml.Decode(src, &raw)
	if err != nil {
		t.Fatalf("error decoding plugin config: %v", err)
	}
	out := make(map[string]plugin.Config, len(raw.Plugins))
	for k, v := range raw.Plugins {
		out[k] = plugin.NewConfig(md, v)
	}
	return out
}

// greeter is a plugin that adds a command replying with its configured
// greeting.
func greeter(b bot.Commands) plugin.Factory {
	return plugin.Factory{
		Name: "greeter",
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			c := struct {
				Greeting string `toml:"greeting"`
			}{Greeting: "hello"}
			if err := cfg.Decode(&c); err != nil {
				return nil, err
			}
			h.Cleanup(b.AddCommand(bot.Command{
				Name: "greet",
				Run: func(context.Context, bot.Request) string {
					return c.Greeting
				},
			}))
			return c, nil
		},
	}
}

func newBot(t *testing.T, opts bot.Options) (*bot.Bot, *plugin.Registry, *xmpptest.Conn) {
	t.Helper()
	conn := xmpptest.NewConn(jid.MustParse(self))
	reg := plugin.NewRegistry(conn, nil, nil)
	if opts.Config.Groups == nil {
		opts.Config.Groups = groups
	}
	opts.Core = []string{disco.Name, muc.Name}
	b := bot.New(conn, reg, opts)
	for _, f := range []plugin.Factory{disco.Factory(), muc.Factory(), greeter(b)} {
		if err := reg.Add(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Load(); err != nil {
		t.Fatalf("error loading plugins: %v", err)
	}
	return b, reg, conn
}

func msg(from string, typ stanza.MessageType, body string) event.Message {
	j := jid.MustParse(from)
	m := stanza.NewMessage(jid.MustParse(self), body, "", typ)
	m.From = j
	return event.Message{
		JID:      j.Bare(),
		Resource: j.Resourcepart(),
		Type:     typ,
		Body:     body,
		Stanza:   m,
	}
}

func send(conn *xmpptest.Conn, from, body string) {
	conn.Events().Emit(event.ChatMessage, msg(from, stanza.ChatMessage, body))
}

func sendRoom(conn *xmpptest.Conn, nick, body string) {
	from := room
	if nick != "" {
		from += "/" + nick
	}
	conn.Events().Emit(event.GroupchatMessage, msg(from, stanza.GroupChatMessage, body))
}

// reply waits for the next sent element and checks that it is a message.
func reply(t *testing.T, conn *xmpptest.Conn) *element.Element {
	t.Helper()
	e := conn.Sent()
	if e == nil {
		t.Fatalf("expected a reply")
	}
	if !e.Is("jabber:client", "message") {
		t.Fatalf("expected a message, got %s", e)
	}
	return e
}

func expectReply(t *testing.T, conn *xmpptest.Conn, to, body string) {
	t.Helper()
	e := reply(t, conn)
	if e.Get("to") != to {
		t.Errorf("reply sent to wrong address: want=%s, got=%s", to, e.Get("to"))
	}
	if b := e.ChildText("", "body"); b != body {
		t.Errorf("wrong reply: want=%q, got=%q", body, b)
	}
}

func TestDirectCommand(t *testing.T) {
	_, _, conn := newBot(t, bot.Options{})
	send(conn, owner, "!level")
	e := reply(t, conn)
	if e.Get("to") != owner || e.Get("type") != "chat" {
		t.Errorf("wrong reply address or type: %s", e)
	}
	if b := e.ChildText("", "body"); b != "You are at level 100." {
		t.Errorf("wrong reply: %q", b)
	}

	send(conn, "stranger@example.net/x", "just talking")
	send(conn, "stranger@example.net/x", "!nosuchcommand")
	send(conn, "stranger@example.net/x", "!rehash")
	send(conn, "troll@example.net/x", "!level")
	send(conn, "stranger@example.net/x", "!level")
	expectReply(t, conn, "stranger@example.net/x", "You are at level 0.")
	time.Sleep(20 * time.Millisecond)
	if n := conn.Pending(); n != 0 {
		t.Errorf("unexpected replies: %d", n)
	}
}

func TestMinLevel(t *testing.T) {
	_, _, conn := newBot(t, bot.Options{Config: bot.Config{
		MinLevel: 10,
		Levels:   map[string]int{"uptime": bot.LevelOwner},
	}})
	send(conn, "stranger@example.net/x", "!level")
	send(conn, admin, "!uptime")
	send(conn, admin, "!level")
	expectReply(t, conn, admin, "You are at level 50.")
	send(conn, owner, "!uptime")
	if b := reply(t, conn).ChildText("", "body"); !strings.HasPrefix(b, "Up for ") {
		t.Errorf("unexpected uptime reply %q", b)
	}
}

func TestCzech(t *testing.T) {
	_, _, conn := newBot(t, bot.Options{Config: bot.Config{Lang: "cs"}})
	send(conn, owner, "!level")
	expectReply(t, conn, owner, "Jsi na levelu 100.")
	send(conn, owner, "!help nosuchcommand")
	expectReply(t, conn, owner, "Neznám, neumím...")
}

func TestHelp(t *testing.T) {
	_, _, conn := newBot(t, bot.Options{Config: bot.Config{
		Plugins: pluginConfig(t, "[plugins.greeter]\n"),
	}})
	send(conn, owner, "!help !level")
	expectReply(t, conn, owner, "Level\nShows the access level of the sender.\n\nUsage: !level")

	send(conn, "stranger@example.net/x", "!help rehash")
	expectReply(t, conn, "stranger@example.net/x", "I don't know that one.")

	send(conn, "stranger@example.net/x", "!commands")
	b := reply(t, conn).ChildText("", "body")
	if !strings.HasPrefix(b, "Available commands:\n") {
		t.Errorf("wrong command list: %q", b)
	}
	if !strings.Contains(b, "\n!greet\n") || !strings.Contains(b, "\n!help -- Help\n") {
		t.Errorf("command list is missing commands: %q", b)
	}
	if strings.Contains(b, "!rehash") || strings.Contains(b, "!join") {
		t.Errorf("command list shows commands the sender may not run: %q", b)
	}

	send(conn, owner, "!help")
	b = reply(t, conn).ChildText("", "body")
	if !strings.Contains(b, "!rehash -- Rehash") || !strings.HasSuffix(b, "---------\nHelp\nLists the available commands or shows help for the given one.\n\nUsage: !help [command]") {
		t.Errorf("wrong help: %q", b)
	}
}

// joinRoom starts a session and completes joining the configured room.
func joinRoom(t *testing.T, conn *xmpptest.Conn) {
	t.Helper()
	conn.Events().Emit(event.SessionStart, event.Session{JID: jid.MustParse(self)})
	if e := conn.Sent(); e == nil || !e.Is("jabber:client", "iq") {
		t.Fatalf("expected roster request, got %v", e)
	}
	if e := conn.Sent(); e == nil || !e.Is("jabber:client", "presence") || e.Get("to") != "" {
		t.Fatalf("expected initial presence, got %v", e)
	}
	if e := conn.Sent(); e == nil || e.Get("to") != room+"/keels" {
		t.Fatalf("expected join presence, got %v", e)
	}
	for _, p := range []string{
		`<presence xmlns='jabber:client' from='` + room + `/keels'><x xmlns='http://jabber.org/protocol/muc#user'><item affiliation='member' role='participant'/><status code='110'/></x></presence>`,
		`<presence xmlns='jabber:client' from='` + room + `/boss'><x xmlns='http://jabber.org/protocol/muc#user'><item affiliation='owner' role='moderator' jid='` + owner + `'/></x></presence>`,
		`<presence xmlns='jabber:client' from='` + room + `/anon'><x xmlns='http://jabber.org/protocol/muc#user'><item affiliation='none' role='participant'/></x></presence>`,
	} {
		conn.Deliver(element.MustParse(p))
	}
}

func TestGroupchat(t *testing.T) {
	_, _, conn := newBot(t, bot.Options{Config: bot.Config{
		Status:   "Ready",
		Priority: 5,
		Rooms:    []bot.Room{{JID: room, Nick: "keels"}},
	}})
	joinRoom(t, conn)

	sendRoom(conn, "keels", "!level")
	sendRoom(conn, "", "!level")
	delayed := msg(room+"/boss", stanza.GroupChatMessage, "!level")
	delayed.Stanza.Delay = &stanza.Delay{}
	conn.Events().Emit(event.GroupchatMessage, delayed)
	sendRoom(conn, "boss", "!level")
	e := reply(t, conn)
	if e.Get("to") != room || e.Get("type") != "groupchat" {
		t.Errorf("groupchat reply sent to wrong address: %s", e)
	}
	if b := e.ChildText("", "body"); b != "boss: You are at level 100." {
		t.Errorf("wrong reply: %q", b)
	}

	sendRoom(conn, "anon", "!level")
	expectReply(t, conn, room, "anon: You are at level 0.")

	// A private message through the room is resolved to the real address.
	send(conn, room+"/boss", "!level")
	expectReply(t, conn, room+"/boss", "You are at level 100.")

	time.Sleep(20 * time.Millisecond)
	if n := conn.Pending(); n != 0 {
		t.Errorf("unexpected replies: %d", n)
	}
}

func TestRehash(t *testing.T) {
	const other = "lab@chat.shakespeare.lit"
	cfg := bot.Config{
		Rooms:   []bot.Room{{JID: room, Nick: "keels"}},
		Plugins: pluginConfig(t, "[plugins.greeter]\ngreeting = \"hi\"\n"),
	}
	next := bot.Config{
		Groups:  groups,
		Nick:    "keels",
		Rooms:   []bot.Room{{JID: other}},
		Plugins: pluginConfig(t, "[plugins.greeter]\ngreeting = \"ahoj\"\n"),
	}
	b, reg, conn := newBot(t, bot.Options{
		Config: cfg,
		Reload: func() (bot.Config, error) { return next, nil },
	})
	joinRoom(t, conn)

	send(conn, owner, "!greet")
	expectReply(t, conn, owner, "hi")

	send(conn, owner, "!rehash")
	if e := conn.Sent(); e == nil || e.Get("to") != room+"/keels" || e.Get("type") != "unavailable" {
		t.Fatalf("expected to leave %s, got %v", room, e)
	}
	if e := conn.Sent(); e == nil || e.Get("to") != other+"/keels" || e.Get("type") != "" {
		t.Fatalf("expected to join %s, got %v", other, e)
	}
	expectReply(t, conn, owner, "Rehashed.")

	send(conn, owner, "!greet")
	expectReply(t, conn, owner, "ahoj")

	if got := reg.Active(); len(got) != 3 || got[2] != "greeter" {
		t.Errorf("wrong active plugins after rehash: %v", got)
	}
	if b.Config().Rooms[0].JID != other {
		t.Errorf("configuration was not replaced")
	}
}

func TestPluginCommands(t *testing.T) {
	_, reg, conn := newBot(t, bot.Options{Config: bot.Config{
		Plugins: pluginConfig(t, "[plugins.greeter]\n"),
	}})
	send(conn, owner, "!plugins")
	expectReply(t, conn, owner, "Loaded plugins: disco, muc, greeter")

	send(conn, admin, "!unload greeter")
	send(conn, owner, "!unload greeter")
	expectReply(t, conn, owner, "Unloaded greeter.")
	if _, ok := reg.Get("greeter"); ok {
		t.Errorf("plugin is still active")
	}

	send(conn, owner, "!load greeter")
	expectReply(t, conn, owner, "Loaded greeter.")
	send(conn, owner, "!greet")
	expectReply(t, conn, owner, "hello")

	send(conn, owner, "!reload greeter")
	expectReply(t, conn, owner, "Reloaded greeter.")

	send(conn, owner, "!load nope")
	if b := reply(t, conn).ChildText("", "body"); !strings.HasPrefix(b, "Could not load nope: ") {
		t.Errorf("unexpected reply %q", b)
	}
	send(conn, owner, "!load")
	expectReply(t, conn, owner, "Which plugin?")
}

func TestJoinLeave(t *testing.T) {
	_, _, conn := newBot(t, bot.Options{Config: bot.Config{Nick: "keels"}})
	send(conn, admin, "!join "+room)
	if e := conn.Sent(); e == nil || e.Get("to") != room+"/keels" {
		t.Fatalf("expected join presence, got %v", e)
	}
	expectReply(t, conn, admin, "Joining "+room+".")

	send(conn, admin, "!join lab@chat.shakespeare.lit tester")
	if e := conn.Sent(); e == nil || e.Get("to") != "lab@chat.shakespeare.lit/tester" {
		t.Fatalf("expected join presence with nick, got %v", e)
	}
	expectReply(t, conn, admin, "Joining lab@chat.shakespeare.lit.")

	send(conn, admin, "!leave "+room)
	if e := conn.Sent(); e == nil || e.Get("type") != "unavailable" {
		t.Fatalf("expected leave presence, got %v", e)
	}
	expectReply(t, conn, admin, "Left "+room+".")

	send(conn, admin, "!leave "+room)
	expectReply(t, conn, admin, "I am not in "+room+".")
}

func TestDie(t *testing.T) {
	b, reg, conn := newBot(t, bot.Options{})
	send(conn, owner, "!restart")
	expectReply(t, conn, owner, "Restarting...")
	deadline := time.Now().Add(time.Second)
	for conn.Dies() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.Dies() != 1 {
		t.Fatalf("connection was not closed")
	}
	if !b.Restarting() {
		t.Errorf("bot should be marked for restart")
	}
	if n := len(reg.Active()); n != 0 {
		t.Errorf("plugins still active after restart: %d", n)
	}
}

func TestLoadOrder(t *testing.T) {
	conn := xmpptest.NewConn(jid.MustParse(self))
	reg := plugin.NewRegistry(conn, nil, nil)
	b := bot.New(conn, reg, bot.Options{Config: bot.Config{
		Plugins: pluginConfig(t, "[plugins.a]\n[plugins.b]\n[plugins.c]\n"),
	}})
	noop := func(plugin.Host, plugin.Config) (plugin.Plugin, error) { return struct{}{}, nil }
	for _, f := range []plugin.Factory{
		{Name: "a", Requires: []string{"b"}, New: noop},
		{Name: "b", New: noop},
		{Name: "c", Requires: []string{"missing"}, New: noop},
	} {
		if err := reg.Add(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Load(); err == nil {
		t.Errorf("expected an error for the plugin with a missing peer")
	}
	if got := reg.Active(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("wrong load order: %v", got)
	}
}
