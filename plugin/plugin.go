// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package plugin manages optional components that extend a client.
//
// A plugin is created by a Factory and only ever talks to the connection
// through the Host it was given. The Host records every handler and event
// subscription the plugin makes so that unloading a plugin removes all of
// them without the plugin's help.
package plugin // import "mellium.im/keelsbot/plugin"

import (
	"context"
	"errors"
	"time"

	"github.com/BurntSushi/toml"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/stanza"
)

// Errors returned by the Registry.
var (
	ErrNotFound    = errors.New("plugin: no such plugin")
	ErrMissingPeer = errors.New("plugin: required plugin is not active")
	ErrActive      = errors.New("plugin: already active")
	ErrDuplicate   = errors.New("plugin: factory already added")
)

// Plugin is a live plugin instance.
// Plugins that hold resources of their own implement Shutdowner.
type Plugin any

// Shutdowner is implemented by plugins that must be told when they are
// unloaded.
// Handlers and event subscriptions made through the Host are removed
// afterwards regardless of the error returned.
type Shutdowner interface {
	Shutdown() error
}

// Factory creates instances of a plugin.
type Factory struct {
	// Name is the name used to load the plugin and by peers to find it.
	Name string

	// Requires lists plugins that must be active before this one can be
	// registered.
	Requires []string

	// New creates the plugin.
	New func(h Host, cfg Config) (Plugin, error)
}

// Conn is the part of a client connection that plugins may use.
type Conn interface {
	Send(e *element.Element) error
	SendWait(ctx context.Context, e *element.Element, m mask.Matcher, timeout time.Duration) (*element.Element, error)
	SendIQ(ctx context.Context, iq stanza.IQ, timeout time.Duration) (stanza.IQ, error)
	Mux() *mux.ServeMux
	Events() *event.Bus
	JID() jid.JID
	NewID() string
	Reconnect()
}

// Config is the configuration block of a single plugin.
// It is decoded lazily into a struct owned by the plugin.
// The zero value is an empty configuration.
type Config struct {
	md   toml.MetaData
	prim toml.Primitive
	set  bool
}

// NewConfig returns the configuration stored in a primitive value decoded
// from md.
func NewConfig(md toml.MetaData, prim toml.Primitive) Config {
	return Config{md: md, prim: prim, set: true}
}

// IsZero reports whether the configuration is empty.
func (c Config) IsZero() bool {
	return !c.set
}

// Decode decodes the configuration into v.
// Fields of v that do not appear in the configuration are left untouched, so
// defaults can be set before calling Decode.
func (c Config) Decode(v any) error {
	if !c.set {
		return nil
	}
	return c.md.PrimitiveDecode(c.prim, v)
}
