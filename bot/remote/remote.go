// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package remote lets entities run bot commands through ad-hoc commands
// instead of chat messages.
package remote // import "mellium.im/keelsbot/bot/remote"

import (
	"context"
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"mellium.im/keelsbot/adhoc"
	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/form"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

// Name is the name the plugin is registered under.
const Name = "remote"

// Node is the ad-hoc command node used to run bot commands.
const Node = "keelsbot#run"

// Runner runs bot commands on behalf of other entities.
type Runner interface {
	Commands() []bot.Command
	Level(j jid.JID) int
	Allowed(level int, c bot.Command) bool
	Execute(ctx context.Context, s bot.Sender, name, args string) (string, error)
	Printer() *message.Printer
}

var czech = [][2]string{
	{"Run a command", "Spustit příkaz"},
	{"Command", "Příkaz"},
	{"Arguments", "Argumenty"},
	{"Done.", "Hotovo."},
	{"Which command?", "Který příkaz?"},
}

func init() {
	if err := bot.Translations(language.Czech, czech); err != nil {
		panic(err)
	}
}

// Factory returns the plugin factory.
func Factory(r Runner) plugin.Factory {
	return plugin.Factory{
		Name:     Name,
		Requires: []string{adhoc.Name},
		New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
			p, _ := h.Peer(adhoc.Name)
			return New(h, p.(*adhoc.Adhoc), r), nil
		},
	}
}

// Remote is the remote command plugin.
type Remote struct {
	r Runner
}

// New creates the plugin and adds its command to a.
func New(h plugin.Host, a *adhoc.Adhoc, r Runner) *Remote {
	rem := &Remote{r: r}
	h.Cleanup(a.AddCommand(adhoc.Command{
		Node:    Node,
		Name:    r.Printer().Sprintf("Run a command"),
		Allowed: rem.allowed,
		Run:     rem.start,
	}))
	return rem
}

func (rem *Remote) allowed(from jid.JID) bool {
	return rem.r.Allowed(rem.r.Level(from.Bare()), bot.Command{})
}

func (rem *Remote) start(_ context.Context, req adhoc.Request) (adhoc.Response, error) {
	p := rem.r.Printer()
	level := rem.r.Level(req.From.Bare())
	opts := []form.Option{form.Label(p.Sprintf("Command")), form.Required}
	for _, c := range rem.r.Commands() {
		if !rem.r.Allowed(level, c) {
			continue
		}
		label := c.Name
		if c.Summary != "" {
			label = p.Sprintf(c.Summary)
		}
		opts = append(opts, form.ListItem(label, c.Name))
	}
	return adhoc.Response{
		Form: form.New(
			form.Title(p.Sprintf("Run a command")),
			form.List("command", opts...),
			form.Text("args", form.Label(p.Sprintf("Arguments"))),
		),
		Next: rem.run,
	}, nil
}

func (rem *Remote) run(ctx context.Context, req adhoc.Request) (adhoc.Response, error) {
	p := rem.r.Printer()
	name, _ := req.Form.GetString("command")
	if name == "" {
		return adhoc.Response{}, stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Text: p.Sprintf("Which command?")}
	}
	args, _ := req.Form.GetString("args")
	s := bot.Sender{JID: req.From.Bare(), Level: rem.r.Level(req.From.Bare())}
	out, err := rem.r.Execute(ctx, s, name, args)
	switch {
	case errors.Is(err, bot.ErrNotAllowed):
		return adhoc.Response{}, stanza.Error{Type: stanza.Auth, Condition: stanza.Forbidden}
	case errors.Is(err, bot.ErrUnknownCommand):
		return adhoc.Response{}, stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Text: err.Error()}
	case err != nil:
		return adhoc.Response{}, err
	}
	if out == "" {
		out = p.Sprintf("Done.")
	}
	return adhoc.Response{
		Notes: []adhoc.Note{{Type: adhoc.NoteInfo, Text: out}},
	}, nil
}
