// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package ping_test

import (
	"context"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/xmpptest"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/ping"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

func load(t *testing.T, config string) (*ping.Ping, *xmpptest.Conn, *plugin.Registry) {
	t.Helper()
	conn := xmpptest.NewConn(jid.MustParse("bot@example.net/keels"))
	reg := plugin.NewRegistry(conn, xmpptest.Logger(t, "ping"), nil)
	for _, f := range []plugin.Factory{disco.Factory(), ping.Factory()} {
		if err := reg.Add(f); err != nil {
			t.Fatal(err)
		}
	}
	var file struct {
		Plugins map[string]toml.Primitive `toml:"plugins"`
	}
	md, err := toml.Decode(config, &file)
	if err != nil {
		t.Fatalf("error decoding config: %v", err)
	}
	if err := reg.Register(disco.Name, plugin.Config{}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ping.Name, plugin.NewConfig(md, file.Plugins["ping"])); err != nil {
		t.Fatalf("error loading ping: %v", err)
	}
	t.Cleanup(reg.DeregisterAll)
	p, _ := reg.Get(ping.Name)
	return p.(*ping.Ping), conn, reg
}

func TestRespond(t *testing.T) {
	_, conn, reg := load(t, "[plugins.ping]\nkeepalive = false\n")
	n := conn.Deliver(element.MustParse(`<iq xmlns='jabber:client' type='get' id='p1' from='example.net'><ping xmlns='urn:xmpp:ping'/></iq>`))
	if n != 1 {
		t.Fatalf("ping matched %d handlers", n)
	}
	iq, err := stanza.DecodeIQ(conn.Sent())
	if err != nil {
		t.Fatal(err)
	}
	if iq.Type != stanza.ResultIQ || iq.ID != "p1" || iq.To.String() != "example.net" {
		t.Errorf("wrong pong: %+v", iq)
	}
	p, _ := reg.Get(disco.Name)
	if !p.(*disco.Disco).Info().HasFeature(ping.NS) {
		t.Errorf("ping feature not advertised")
	}
	if err = reg.Deregister(ping.Name); err != nil {
		t.Fatal(err)
	}
	if p.(*disco.Disco).Info().HasFeature(ping.NS) {
		t.Errorf("ping feature still advertised after unloading")
	}
}

func TestPing(t *testing.T) {
	p, conn, _ := load(t, "[plugins.ping]\nkeepalive = false\n")
	conn.Respond = func(e *element.Element) *element.Element {
		return element.MustParse(`<iq xmlns='jabber:client' type='error' from='romeo@example.net/orchard' id='` + e.Get("id") + `'><error type='cancel'><service-unavailable xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></iq>`)
	}
	_, err := p.Ping(context.Background(), jid.MustParse("romeo@example.net/orchard"), time.Second)
	se, ok := err.(stanza.Error)
	if !ok || se.Condition != stanza.ServiceUnavailable {
		t.Errorf("expected the error reply to be returned, got %v", err)
	}
	req := conn.Sent()
	if req.Find(ping.NS, "ping") == nil || req.Get("to") != "romeo@example.net/orchard" {
		t.Errorf("wrong request: %s", req)
	}
}

func TestKeepalive(t *testing.T) {
	_, conn, _ := load(t, "[plugins.ping]\ninterval = \"10ms\"\ntimeout = \"20ms\"\n")
	var answered int
	conn.Respond = func(e *element.Element) *element.Element {
		if e.Find(ping.NS, "ping") == nil {
			return nil
		}
		// Answer the first two pings and then go silent.
		answered++
		if answered > 2 {
			return nil
		}
		return element.MustParse(`<iq xmlns='jabber:client' type='result' from='example.net' id='` + e.Get("id") + `'/>`)
	}
	conn.Events().Emit(event.SessionStart, event.Session{})

	deadline := time.Now().Add(5 * time.Second)
	for conn.Reconnects() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("keepalive never requested a reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		if req := conn.Sent(); req == nil || req.Get("to") != "example.net" {
			t.Fatalf("expected ping %d to the server, got %v", i, req)
		}
	}
	conn.Events().Emit(event.Disconnected, event.Disconnect{})
	if n := conn.Reconnects(); n != 1 {
		t.Errorf("expected a single reconnect, got %d", n)
	}
}
