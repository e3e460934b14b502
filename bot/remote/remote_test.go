// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package remote_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"mellium.im/keelsbot/adhoc"
	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/bot/remote"
	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/form"
	"mellium.im/keelsbot/internal/xmpptest"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

const (
	owner  = "juliet@example.net/balcony"
	guest  = "romeo@example.net/orchard"
	banned = "tybalt@example.net/street"
)

type runner struct {
	ran []string
}

func (r *runner) Commands() []bot.Command {
	return []bot.Command{
		{Name: "echo", Summary: "Repeat something"},
		{Name: "quiet"},
		{Name: "die", Summary: "Stop the bot", Level: bot.LevelOwner},
	}
}

func (r *runner) Level(j jid.JID) int {
	switch j.String() {
	case "juliet@example.net":
		return bot.LevelOwner
	case "tybalt@example.net":
		return -1
	}
	return 0
}

func (r *runner) Allowed(level int, c bot.Command) bool {
	return level >= 0 && level >= c.Level
}

func (r *runner) Execute(_ context.Context, s bot.Sender, name, args string) (string, error) {
	for _, c := range r.Commands() {
		if c.Name != name {
			continue
		}
		if !r.Allowed(s.Level, c) {
			return "", bot.ErrNotAllowed
		}
		r.ran = append(r.ran, s.JID.String()+" "+name)
		if name == "echo" {
			return args, nil
		}
		return "", nil
	}
	return "", fmt.Errorf("%w %q", bot.ErrUnknownCommand, name)
}

func (r *runner) Printer() *message.Printer {
	return message.NewPrinter(language.English)
}

func load(t *testing.T) (*runner, *xmpptest.Conn) {
	t.Helper()
	r := &runner{}
	conn := xmpptest.NewConn(jid.MustParse("bot@example.net/keels"))
	reg := plugin.NewRegistry(conn, xmpptest.Logger(t, "remote"), nil)
	for _, f := range []plugin.Factory{disco.Factory(), adhoc.Factory(), remote.Factory(r)} {
		if err := reg.Add(f); err != nil {
			t.Fatal(err)
		}
		if err := reg.Register(f.Name, plugin.Config{}); err != nil {
			t.Fatalf("error loading %s: %v", f.Name, err)
		}
	}
	return r, conn
}

func command(t *testing.T, conn *xmpptest.Conn, from, attrs, payload string) stanza.IQ {
	t.Helper()
	raw := `<iq xmlns='jabber:client' type='set' id='r1' from='` + from + `'><command xmlns='http://jabber.org/protocol/commands' node='` + remote.Node + `' ` + attrs + `>` + payload + `</command></iq>`
	conn.Deliver(element.MustParse(raw))
	e := conn.Sent()
	if e == nil {
		t.Fatalf("no reply sent")
	}
	iq, err := stanza.DecodeIQ(e)
	if err != nil {
		t.Fatalf("reply is not an IQ: %v", err)
	}
	return iq
}

func start(t *testing.T, conn *xmpptest.Conn, from string) (string, *form.Data) {
	t.Helper()
	iq := command(t, conn, from, `action='execute'`, "")
	if iq.Type != stanza.ResultIQ || iq.Payload.Get("status") != adhoc.Executing {
		t.Fatalf("wrong first stage: %s", iq.Element())
	}
	data, err := form.Decode(iq.Payload.Find(form.NS, "x"))
	if err != nil {
		t.Fatalf("error decoding form: %v", err)
	}
	return iq.Payload.Get("sessionid"), data
}

func submit(t *testing.T, conn *xmpptest.Conn, from, sid string, data *form.Data, name, args string) stanza.IQ {
	t.Helper()
	if _, err := data.Set("command", name); err != nil {
		t.Fatal(err)
	}
	if _, err := data.Set("args", args); err != nil {
		t.Fatal(err)
	}
	x, _ := data.Submit()
	return command(t, conn, from, `action='complete' sessionid='`+sid+`'`, x.String())
}

func TestRun(t *testing.T) {
	r, conn := load(t)
	sid, data := start(t, conn, guest)
	x := data.Element().String()
	if !strings.Contains(x, "echo") || !strings.Contains(x, "Repeat something") || strings.Contains(x, "die") {
		t.Errorf("wrong command options for a guest: %s", x)
	}
	iq := submit(t, conn, guest, sid, data, "echo", "wherefore art thou")
	if iq.Payload.Get("status") != adhoc.Completed || iq.Payload.ChildText(adhoc.NS, "note") != "wherefore art thou" {
		t.Errorf("wrong reply: %s", iq.Element())
	}

	sid, data = start(t, conn, guest)
	iq = submit(t, conn, guest, sid, data, "quiet", "")
	if iq.Payload.ChildText(adhoc.NS, "note") != "Done." {
		t.Errorf("wrong reply for a command without output: %s", iq.Element())
	}
	if len(r.ran) != 2 || r.ran[0] != "romeo@example.net echo" {
		t.Errorf("wrong commands run: %v", r.ran)
	}
}

func TestOwnerOptions(t *testing.T) {
	_, conn := load(t)
	_, data := start(t, conn, owner)
	if x := data.Element().String(); !strings.Contains(x, "die") {
		t.Errorf("owner cannot pick owner commands: %s", x)
	}
}

func TestErrors(t *testing.T) {
	r, conn := load(t)
	sid, data := start(t, conn, guest)
	iq := submit(t, conn, guest, sid, data, "die", "")
	if iq.Err == nil || iq.Err.Condition != stanza.Forbidden {
		t.Errorf("expected forbidden, got %s", iq.Element())
	}

	sid, data = start(t, conn, guest)
	iq = submit(t, conn, guest, sid, data, "nope", "")
	if iq.Err == nil || iq.Err.Condition != stanza.BadRequest {
		t.Errorf("expected bad-request, got %s", iq.Element())
	}

	iq = command(t, conn, banned, `action='execute'`, "")
	if iq.Err == nil || iq.Err.Condition != stanza.Forbidden {
		t.Errorf("banned entity started the command: %s", iq.Element())
	}
	if len(r.ran) != 0 {
		t.Errorf("commands were run: %v", r.ran)
	}
}
