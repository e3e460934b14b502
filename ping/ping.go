// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping.
//
// The plugin answers pings and, while a session is established, pings the
// server periodically. If the server does not answer in time the connection
// is dropped so that the client reconnects.
package ping // import "mellium.im/keelsbot/ping"

import (
	"context"
	"encoding/xml"
	"errors"
	"sync"
	"time"

	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

// NS is the XML namespace used by XMPP pings. It is provided as a convenience.
const NS = ns.Ping

// Name is the name the plugin is registered under.
const Name = "ping"

// Config is the configuration block of the plugin.
type Config struct {
	Keepalive bool          `toml:"keepalive"`
	Interval  time.Duration `toml:"interval"`
	Timeout   time.Duration `toml:"timeout"`
}

// DefaultConfig is the configuration used for options that are not set.
var DefaultConfig = Config{
	Keepalive: true,
	Interval:  5 * time.Minute,
	Timeout:   30 * time.Second,
}

// Factory returns the plugin factory.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:     Name,
		Requires: []string{disco.Name},
		New: func(h plugin.Host, cfg plugin.Config) (plugin.Plugin, error) {
			c := DefaultConfig
			if err := cfg.Decode(&c); err != nil {
				return nil, err
			}
			return New(h, c), nil
		},
	}
}

// Ping is the ping plugin.
type Ping struct {
	h   plugin.Host
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the plugin and registers its handlers with h.
func New(h plugin.Host, cfg Config) *Ping {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	p := &Ping{h: h, cfg: cfg}
	if d, ok := h.Peer(disco.Name); ok {
		h.Cleanup(d.(*disco.Disco).AddFeature(NS))
	}
	h.Handle(mask.IQ(string(stanza.GetIQ), xml.Name{Space: NS, Local: "ping"}), mux.IQHandler(func(iq stanza.IQ) error {
		return h.Send(iq.Result(nil).Element())
	}))
	if cfg.Keepalive {
		h.On(event.SessionStart, func(any) { p.start() })
		h.On(event.Disconnected, func(any) { p.stop() })
	}
	return p
}

// Shutdown stops the keepalive loop.
func (p *Ping) Shutdown() error {
	p.stop()
	return nil
}

// Ping sends a ping to the given entity and returns the round trip time.
// An error reply still proves that the entity is reachable; it is returned
// along with the time it took to arrive.
func (p *Ping) Ping(ctx context.Context, to jid.JID, timeout time.Duration) (time.Duration, error) {
	iq := stanza.NewIQ(stanza.GetIQ, to, p.h.NewID(), element.New(NS, "ping"))
	start := time.Now()
	_, err := p.h.SendIQ(ctx, iq, timeout)
	return time.Since(start), err
}

func (p *Ping) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.keepalive(ctx)
	}()
}

func (p *Ping) stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Ping) keepalive(ctx context.Context) {
	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		server := p.h.JID().Domain()
		rtt, err := p.Ping(ctx, server, p.cfg.Timeout)
		var se stanza.Error
		switch {
		case err == nil || errors.As(err, &se):
			p.h.Debug().Printf("ping: %s answered in %s", server, rtt)
		case ctx.Err() != nil:
			return
		default:
			p.h.Logger().Printf("ping: no answer from %s: %v, reconnecting", server, err)
			p.h.Reconnect()
			return
		}
	}
}
