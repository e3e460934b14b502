// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"

	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/version"
	"mellium.im/keelsbot/xmpp"
)

//go:embed keelsbot.toml
var defaultConfig string

type config struct {
	Auth struct {
		JID      string `toml:"jid"`
		Password string `toml:"password"`
		Server   string `toml:"server"`
		Proxy    string `toml:"proxy"`
		NoTLS    bool   `toml:"no_tls"`
	} `toml:"auth"`

	Client struct {
		Name            string        `toml:"name"`
		Version         string        `toml:"version"`
		ReconnectDelay  time.Duration `toml:"reconnect_delay"`
		ResponseTimeout time.Duration `toml:"response_timeout"`
		Subscription    string        `toml:"subscription"`
		AutoSubscribe   bool          `toml:"auto_subscribe"`
	} `toml:"client"`

	Storage struct {
		File string `toml:"file"`
	} `toml:"storage"`

	Bot    bot.Config                `toml:"bot"`
	Rooms  []bot.Room                `toml:"rooms"`
	Groups []bot.Group               `toml:"groups"`
	Levels map[string]int            `toml:"levels"`
	Plugin map[string]toml.Primitive `toml:"plugins"`

	md toml.MetaData
}

func printConfig(w io.Writer) error {
	_, err := io.WriteString(w, defaultConfig)
	return err
}

// configFile attempts to open the config file for reading.
// If a file is provided, only that file is checked, otherwise it attempts to
// open the following (falling back if the file does not exist or cannot be
// read):
//
// ./keelsbot.toml, $XDG_CONFIG_HOME/keelsbot/config.toml,
// $HOME/.config/keelsbot/config.toml, /etc/keelsbot/config.toml
func configFile(f string) (*os.File, string, error) {
	if f != "" {
		cfgFile, err := os.Open(f)
		return cfgFile, f, err
	}

	fPath := filepath.Join(".", appName+".toml")
	if cfgFile, err := os.Open(fPath); err == nil {
		return cfgFile, fPath, err
	}

	cfgDir := os.Getenv("XDG_CONFIG_HOME")
	if cfgDir != "" {
		fPath = filepath.Join(cfgDir, appName, "config.toml")
		if cfgFile, err := os.Open(fPath); err == nil {
			return cfgFile, fPath, nil
		}
	}

	u, err := user.Current()
	if err == nil && u.HomeDir != "" {
		fPath = filepath.Join(u.HomeDir, ".config", appName, "config.toml")
		if cfgFile, err := os.Open(fPath); err == nil {
			return cfgFile, fPath, nil
		}
	}

	fPath = filepath.Join("/etc", appName, "config.toml")
	cfgFile, err := os.Open(fPath)
	return cfgFile, fPath, err
}

// loadConfig reads the configuration file at fpath.
func loadConfig(fpath string) (config, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return config{}, err
	}
	defer f.Close()
	return decodeConfig(f)
}

func decodeConfig(r io.Reader) (config, error) {
	cfg := config{}
	cfg.Client.Subscription = "accept"
	cfg.Client.AutoSubscribe = true
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.md = md
	return cfg, nil
}

// botConfig merges the top level tables into the configuration of the bot.
func (c config) botConfig() bot.Config {
	b := c.Bot
	b.Rooms = append(b.Rooms, c.Rooms...)
	b.Groups = append(b.Groups, c.Groups...)
	if len(c.Levels) > 0 && b.Levels == nil {
		b.Levels = make(map[string]int, len(c.Levels))
	}
	for name, level := range c.Levels {
		b.Levels[name] = level
	}
	b.Plugins = make(map[string]plugin.Config, len(c.Plugin))
	for name, prim := range c.Plugin {
		b.Plugins[name] = plugin.NewConfig(c.md, prim)
	}
	return b
}

func (c config) versionQuery() version.Query {
	q := version.Query{
		Name:    c.Client.Name,
		Version: c.Client.Version,
	}
	if q.Name == "" {
		q.Name = "KeelsBot"
	}
	if q.Version == "" {
		q.Version = Version
	}
	return q
}

func subscriptionPolicy(s string) (xmpp.SubscriptionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "accept":
		return xmpp.Accept, nil
	case "reject":
		return xmpp.Reject, nil
	case "manual":
		return xmpp.Manual, nil
	}
	return 0, fmt.Errorf("unknown subscription policy %q", s)
}

// clientOptions returns the options of the XMPP client.
// Loggers and the pool are left for the caller to set.
func (c config) clientOptions() (xmpp.Options, error) {
	if c.Auth.JID == "" {
		return xmpp.Options{}, errors.New("no address configured, set jid in the [auth] table")
	}
	j, err := jid.Parse(c.Auth.JID)
	if err != nil {
		return xmpp.Options{}, fmt.Errorf("error parsing bot address: %w", err)
	}
	policy, err := subscriptionPolicy(c.Client.Subscription)
	if err != nil {
		return xmpp.Options{}, err
	}
	lang, err := language.Parse(c.Bot.Lang)
	if err != nil {
		lang = language.English
	}
	return xmpp.Options{
		JID:             j,
		Password:        c.Auth.Password,
		Address:         c.Auth.Server,
		Proxy:           c.Auth.Proxy,
		NoTLS:           c.Auth.NoTLS,
		Lang:            lang,
		ReconnectDelay:  c.Client.ReconnectDelay,
		ResponseTimeout: c.Client.ResponseTimeout,
		Subscription:    policy,
		AutoSubscribe:   c.Client.AutoSubscribe,
	}, nil
}
