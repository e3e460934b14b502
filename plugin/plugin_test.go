// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package plugin_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/BurntSushi/toml"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/xmpptest"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/plugin"
)

const chat = `<message xmlns='jabber:client' type='chat' from='romeo@example.net/orchard'><body>hi</body></message>`

type testPlugin struct {
	calls    *[]string
	name     string
	shutdown error
}

func (p *testPlugin) Shutdown() error {
	*p.calls = append(*p.calls, "shutdown "+p.name)
	return p.shutdown
}

func newRegistry(t *testing.T) (*plugin.Registry, *xmpptest.Conn) {
	t.Helper()
	conn := xmpptest.NewConn(jid.MustParse("juliet@example.net/balcony"))
	return plugin.NewRegistry(conn, xmpptest.Logger(t, "plugin"), nil), conn
}

func TestUnloadRemovesEverything(t *testing.T) {
	reg, conn := newRegistry(t)
	var calls []string
	var got int
	err := reg.Add(plugin.Factory{
		Name: "echo",
		New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
			h.Handle(mask.Message("chat"), mux.HandlerFunc(func(*element.Element) error {
				got++
				return nil
			}))
			h.On(event.SessionStart, func(any) {
				got++
			})
			h.Cleanup(func() { calls = append(calls, "cleanup 1") })
			h.Cleanup(func() { calls = append(calls, "cleanup 2") })
			return &testPlugin{calls: &calls, name: "echo"}, nil
		},
	})
	if err != nil {
		t.Fatalf("Error adding factory: %v", err)
	}
	if err = reg.Register("echo", plugin.Config{}); err != nil {
		t.Fatalf("Error registering: %v", err)
	}
	conn.Deliver(element.MustParse(chat))
	conn.Events().Emit(event.SessionStart, event.Session{})
	if got != 2 {
		t.Fatalf("Plugin handlers did not run: %d calls", got)
	}

	if err = reg.Deregister("echo"); err != nil {
		t.Fatalf("Error deregistering: %v", err)
	}
	if n := conn.Mux().Len(); n != 0 {
		t.Errorf("Handlers left registered after unloading: %d", n)
	}
	if n := conn.Events().Count(event.SessionStart); n != 0 {
		t.Errorf("Event handlers left registered after unloading: %d", n)
	}
	conn.Deliver(element.MustParse(chat))
	conn.Events().Emit(event.SessionStart, event.Session{})
	if got != 2 {
		t.Errorf("Handlers ran after unloading: %d calls", got)
	}
	want := []string{"shutdown echo", "cleanup 2", "cleanup 1"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("Wrong unload order: want=%q, got=%q", want, calls)
	}
	if _, ok := reg.Get("echo"); ok {
		t.Errorf("Plugin still active after unloading")
	}
}

func TestRequires(t *testing.T) {
	reg, _ := newRegistry(t)
	var calls []string
	factory := func(name string, requires ...string) plugin.Factory {
		return plugin.Factory{
			Name:     name,
			Requires: requires,
			New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
				for _, r := range requires {
					if _, ok := h.Peer(r); !ok {
						t.Errorf("Peer %s not visible to %s", r, name)
					}
				}
				return &testPlugin{calls: &calls, name: name}, nil
			},
		}
	}
	for _, f := range []plugin.Factory{factory("disco"), factory("ping", "disco")} {
		if err := reg.Add(f); err != nil {
			t.Fatalf("Error adding %s: %v", f.Name, err)
		}
	}
	if err := reg.Add(factory("disco")); !errors.Is(err, plugin.ErrDuplicate) {
		t.Errorf("Expected duplicate error, got %v", err)
	}

	if err := reg.Register("ping", plugin.Config{}); !errors.Is(err, plugin.ErrMissingPeer) {
		t.Errorf("Expected missing peer error, got %v", err)
	}
	if err := reg.Register("nope", plugin.Config{}); !errors.Is(err, plugin.ErrNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
	for _, name := range []string{"disco", "ping"} {
		if err := reg.Register(name, plugin.Config{}); err != nil {
			t.Fatalf("Error registering %s: %v", name, err)
		}
	}
	if err := reg.Register("ping", plugin.Config{}); !errors.Is(err, plugin.ErrActive) {
		t.Errorf("Expected already active error, got %v", err)
	}
	if active := reg.Active(); !reflect.DeepEqual(active, []string{"disco", "ping"}) {
		t.Errorf("Wrong active plugins: %q", active)
	}

	reg.DeregisterAll()
	want := []string{"shutdown ping", "shutdown disco"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("Wrong shutdown order: want=%q, got=%q", want, calls)
	}
	if active := reg.Active(); len(active) != 0 {
		t.Errorf("Plugins still active: %q", active)
	}
}

func TestFailedLoad(t *testing.T) {
	reg, conn := newRegistry(t)
	err := reg.Add(plugin.Factory{
		Name: "broken",
		New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
			h.Handle(mask.Message(), mux.HandlerFunc(func(*element.Element) error { return nil }))
			return nil, errors.New("no database")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = reg.Add(plugin.Factory{
		Name: "panics",
		New: func(plugin.Host, plugin.Config) (plugin.Plugin, error) {
			panic("boom")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"broken", "panics"} {
		if err := reg.Register(name, plugin.Config{}); err == nil {
			t.Errorf("Expected %s to fail to load", name)
		}
	}
	if n := conn.Mux().Len(); n != 0 {
		t.Errorf("Failed plugin left %d handlers registered", n)
	}
	if active := reg.Active(); len(active) != 0 {
		t.Errorf("Failed plugins are active: %q", active)
	}
}

func TestReload(t *testing.T) {
	reg, _ := newRegistry(t)
	type config struct {
		Greeting string `toml:"greeting"`
	}
	var greetings []string
	err := reg.Add(plugin.Factory{
		Name: "greeter",
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			c := config{Greeting: "hello"}
			if err := cfg.Decode(&c); err != nil {
				return nil, err
			}
			greetings = append(greetings, c.Greeting)
			return c, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = reg.Register("greeter", plugin.Config{}); err != nil {
		t.Fatalf("Error registering: %v", err)
	}

	var file struct {
		Plugins map[string]toml.Primitive `toml:"plugins"`
	}
	md, err := toml.Decode("[plugins.greeter]\ngreeting = \"ahoj\"\n", &file)
	if err != nil {
		t.Fatalf("Error decoding config: %v", err)
	}
	cfg := plugin.NewConfig(md, file.Plugins["greeter"])
	if cfg.IsZero() {
		t.Errorf("Configuration from a file should not be zero")
	}
	if err = reg.Reload("greeter", cfg); err != nil {
		t.Fatalf("Error reloading: %v", err)
	}
	if want := []string{"hello", "ahoj"}; !reflect.DeepEqual(greetings, want) {
		t.Errorf("Wrong configuration after reload: want=%q, got=%q", want, greetings)
	}
	p, ok := reg.Get("greeter")
	if !ok || p.(config).Greeting != "ahoj" {
		t.Errorf("Reloaded plugin not active: %v", p)
	}
}

func TestRemoveFactory(t *testing.T) {
	reg, _ := newRegistry(t)
	var calls []string
	err := reg.Add(plugin.Factory{
		Name: "temp",
		New: func(plugin.Host, plugin.Config) (plugin.Plugin, error) {
			return &testPlugin{calls: &calls, name: "temp", shutdown: errors.New("ignored")}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = reg.Register("temp", plugin.Config{}); err != nil {
		t.Fatal(err)
	}
	if err = reg.Remove("temp"); err == nil {
		t.Errorf("Expected the shutdown error to be returned")
	}
	if names := reg.Factories(); len(names) != 1 {
		t.Errorf("Factory should remain after a failed removal: %q", names)
	}
	if _, ok := reg.Get("temp"); ok {
		t.Errorf("Plugin should be inactive even though shutdown failed")
	}
	if err = reg.Remove("temp"); err != nil {
		t.Errorf("Error removing inactive factory: %v", err)
	}
	if names := reg.Factories(); len(names) != 0 {
		t.Errorf("Factory still present: %q", names)
	}
}
