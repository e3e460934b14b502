// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/message"

	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/muc"
)

func (b *Bot) addBuiltins() {
	for _, c := range []Command{{
		Name:    "help",
		Summary: "Help",
		Help:    "Lists the available commands or shows help for the given one.",
		Usage:   "help [command]",
		Run:     b.help,
	}, {
		Name:    "commands",
		Summary: "Commands",
		Help:    "Lists the available commands.",
		Usage:   "commands",
		Run:     b.listCommands,
	}, {
		Name:    "level",
		Summary: "Level",
		Help:    "Shows the access level of the sender.",
		Usage:   "level",
		Run: func(_ context.Context, req Request) string {
			return req.Printer.Sprintf("You are at level %d.", req.Sender.Level)
		},
	}, {
		Name:    "uptime",
		Summary: "Uptime",
		Help:    "Shows how long the bot has been running.",
		Usage:   "uptime",
		Run: func(_ context.Context, req Request) string {
			return req.Printer.Sprintf("Up for %s.", time.Since(b.started).Round(time.Second))
		},
	}, {
		Name:    "plugins",
		Summary: "Plugins",
		Help:    "Lists the loaded plugins.",
		Usage:   "plugins",
		Run: func(_ context.Context, req Request) string {
			return req.Printer.Sprintf("Loaded plugins: %s", strings.Join(b.reg.Active(), ", "))
		},
	}, {
		Name:    "load",
		Summary: "Load",
		Help:    "Loads a plugin.",
		Usage:   "load <plugin>",
		Level:   LevelOwner,
		Run:     b.pluginCommand(b.LoadPlugin, "Loaded %s.", "Could not load %s: %v"),
	}, {
		Name:    "unload",
		Summary: "Unload",
		Help:    "Unloads a plugin.",
		Usage:   "unload <plugin>",
		Level:   LevelOwner,
		Run:     b.pluginCommand(b.UnloadPlugin, "Unloaded %s.", "Could not unload %s: %v"),
	}, {
		Name:    "reload",
		Summary: "Reload",
		Help:    "Unloads and loads a plugin again.",
		Usage:   "reload <plugin>",
		Level:   LevelOwner,
		Run:     b.pluginCommand(b.ReloadPlugin, "Reloaded %s.", "Could not reload %s: %v"),
	}, {
		Name:    "rehash",
		Summary: "Rehash",
		Help:    "Reads the configuration again and reloads plugins without disconnecting.",
		Usage:   "rehash",
		Level:   LevelOwner,
		Run: func(_ context.Context, req Request) string {
			if err := b.Rehash(); err != nil {
				return req.Printer.Sprintf("Rehash failed: %v", err)
			}
			return req.Printer.Sprintf("Rehashed.")
		},
	}, {
		Name:    "restart",
		Summary: "Restart",
		Help:    "Restarts the bot and connects again.",
		Usage:   "restart",
		Level:   LevelOwner,
		Run: func(_ context.Context, req Request) string {
			b.replyOrLog(req, req.Printer.Sprintf("Restarting..."))
			b.Restart()
			return ""
		},
	}, {
		Name:    "die",
		Summary: "Die",
		Help:    "Shuts the bot down.",
		Usage:   "die",
		Level:   LevelOwner,
		Run: func(_ context.Context, req Request) string {
			b.replyOrLog(req, req.Printer.Sprintf("Dying..."))
			b.Die()
			return ""
		},
	}, {
		Name:    "join",
		Summary: "Join",
		Help:    "Joins a room.",
		Usage:   "join <room> [nick]",
		Level:   LevelAdmin,
		Run:     b.join,
	}, {
		Name:    "leave",
		Summary: "Leave",
		Help:    "Leaves a room.",
		Usage:   "leave <room>",
		Level:   LevelAdmin,
		Run:     b.leave,
	}} {
		b.AddCommand(c)
	}
}

func (b *Bot) replyOrLog(req Request, text string) {
	if err := b.Reply(req, text); err != nil && !errors.Is(err, ErrNoMessage) {
		b.logger.Printf("error replying to %s: %v", req.Message.Stanza.From, err)
	}
}

// translate looks s up in the catalog. Summaries and help texts of commands
// are message keys.
func translate(p *message.Printer, s string) string {
	if s == "" {
		return ""
	}
	return p.Sprintf(s)
}

func (b *Bot) listCommands(_ context.Context, req Request) string {
	p := req.Printer
	prefix := b.Config().Prefix
	var sb strings.Builder
	sb.WriteString(p.Sprintf("Available commands:"))
	for _, c := range b.Commands() {
		if !b.Allowed(req.Sender.Level, c) {
			continue
		}
		sb.WriteString("\n" + prefix + c.Name)
		if c.Summary != "" {
			sb.WriteString(" -- " + translate(p, c.Summary))
		}
	}
	return sb.String()
}

func (b *Bot) help(ctx context.Context, req Request) string {
	prefix := b.Config().Prefix
	name := strings.TrimPrefix(req.Args, prefix)
	if name == "" {
		return b.listCommands(ctx, req) + "\n---------\n" + b.describe(req, "help")
	}
	return b.describe(req, name)
}

func (b *Bot) describe(req Request, name string) string {
	p := req.Printer
	c, ok := b.command(name)
	if !ok || !b.Allowed(req.Sender.Level, c) {
		return p.Sprintf("I don't know that one.")
	}
	var sb strings.Builder
	if c.Summary != "" {
		sb.WriteString(translate(p, c.Summary) + "\n")
	}
	sb.WriteString(translate(p, c.Help))
	if c.Usage != "" {
		sb.WriteString("\n\n" + p.Sprintf("Usage: %s%s", b.Config().Prefix, c.Usage))
	}
	return sb.String()
}

func (b *Bot) pluginCommand(f func(string) error, ok, failed string) func(context.Context, Request) string {
	return func(_ context.Context, req Request) string {
		name := strings.TrimSpace(req.Args)
		if name == "" {
			return req.Printer.Sprintf("Which plugin?")
		}
		if err := f(name); err != nil {
			return req.Printer.Sprintf(failed, name, err)
		}
		return req.Printer.Sprintf(ok, name)
	}
}

func (b *Bot) join(_ context.Context, req Request) string {
	p := req.Printer
	fields := strings.Fields(req.Args)
	if len(fields) == 0 {
		return p.Sprintf("Which room?")
	}
	room, err := jid.Parse(fields[0])
	if err != nil {
		return p.Sprintf("Invalid room address %s.", fields[0])
	}
	nick := b.Config().Nick
	if len(fields) > 1 {
		nick = fields[1]
	}
	m, ok := b.mucPlugin()
	if !ok {
		return p.Sprintf("Rooms are not available.")
	}
	if err := m.Join(room, nick, ""); err != nil {
		return p.Sprintf("Could not join %s: %v", room, err)
	}
	return p.Sprintf("Joining %s.", room.Bare())
}

func (b *Bot) leave(_ context.Context, req Request) string {
	p := req.Printer
	arg := strings.TrimSpace(req.Args)
	if arg == "" {
		return p.Sprintf("Which room?")
	}
	room, err := jid.Parse(arg)
	if err != nil {
		return p.Sprintf("Invalid room address %s.", arg)
	}
	m, ok := b.mucPlugin()
	if !ok {
		return p.Sprintf("Rooms are not available.")
	}
	err = m.Leave(room, "")
	switch {
	case errors.Is(err, muc.ErrNotJoined):
		return p.Sprintf("I am not in %s.", room.Bare())
	case err != nil:
		return p.Sprintf("Could not leave %s: %v", room.Bare(), err)
	}
	return p.Sprintf("Left %s.", room.Bare())
}
