// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bot

import (
	"golang.org/x/text/language"

	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/plugin"
)

// Access levels used by the builtin commands.
const (
	LevelOwner = 100
	LevelAdmin = 50
)

// Config is the runtime configuration of the bot.
type Config struct {
	// Prefix starts every command. It defaults to "!".
	Prefix string `toml:"prefix"`

	// MinLevel is the lowest access level that may run any command.
	MinLevel int `toml:"min_level"`

	// Lang is the language of replies, "en" by default.
	Lang string `toml:"lang"`

	// Nick is used in rooms that do not set one.
	Nick     string `toml:"nick"`
	Status   string `toml:"status"`
	Priority int8   `toml:"priority"`

	Rooms  []Room  `toml:"rooms"`
	Groups []Group `toml:"groups"`

	// Levels overrides the access level of individual commands.
	Levels map[string]int `toml:"levels"`

	// Plugins holds the configuration of every plugin to load, keyed by
	// plugin name.
	Plugins map[string]plugin.Config `toml:"-"`
}

// Room is a room joined on start.
type Room struct {
	JID      string `toml:"jid"`
	Nick     string `toml:"nick"`
	Password string `toml:"password"`
}

// Group gives its members an access level.
// Members are bare addresses.
type Group struct {
	Name    string   `toml:"name"`
	Level   int      `toml:"level"`
	Members []string `toml:"members"`
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "!"
	}
	if c.Nick == "" {
		c.Nick = "KeelsBot"
	}
	if c.Lang == "" {
		c.Lang = "en"
	}
	return c
}

func (c Config) language() language.Tag {
	t, err := language.Parse(c.Lang)
	if err != nil {
		return language.English
	}
	return t
}

// acl maps bare addresses to the levels of every group they are in.
type acl map[string][]int

func newACL(groups []Group) acl {
	a := make(acl)
	for _, g := range groups {
		for _, m := range g.Members {
			j, err := jid.Parse(m)
			if err != nil {
				continue
			}
			k := j.Bare().String()
			a[k] = append(a[k], g.Level)
		}
	}
	return a
}

// level returns the access level of a bare address.
// Membership in any group with a negative level results in the lowest of
// those levels, otherwise the highest group level applies.
// Addresses that are in no group have level 0.
func (a acl) level(j jid.JID) int {
	var low, high int
	for _, l := range a[j.Bare().String()] {
		if l < 0 {
			low = min(low, l)
		} else {
			high = max(high, l)
		}
	}
	if low < 0 {
		return low
	}
	return high
}
