// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package definitions remembers definitions of words and phrases.
//
// Anyone may define a term with the define command. The lock command stores a
// definition with the access level of its author so that only people with at
// least that level can change or delete it.
package definitions // import "mellium.im/keelsbot/bot/definitions"

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mellium.im/keelsbot/bot"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/storage"
)

// Name is the name of the plugin.
const Name = "definitions"

// ErrLocked is returned when changing a definition locked at a higher level.
var ErrLocked = errors.New("definitions: definition is locked")

var migrations = storage.Migrations{
	{
		Version: 1,
		Up: `
CREATE TABLE definitions (
	folded  TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	text    TEXT NOT NULL,
	level   INTEGER NOT NULL DEFAULT 0
);`,
		Down: `DROP TABLE definitions;`,
	},
}

const (
	upsertDefinition = `
INSERT INTO definitions (folded, name, text, level) VALUES (?, ?, ?, ?)
	ON CONFLICT (folded) DO UPDATE SET
		name=excluded.name, text=excluded.text, level=excluded.level`
	selectDefinition = `SELECT name, text, level FROM definitions WHERE folded=?`
	deleteDefinition = `DELETE FROM definitions WHERE folded=?`
)

// Definition is a stored definition.
type Definition struct {
	Name string
	Text string

	// Level is the access level needed to change the definition.
	Level int
}

// Definitions is the plugin.
type Definitions struct {
	h  plugin.Host
	db storage.Store
}

// Factory returns the plugin factory.
func Factory(cmds bot.Commands, db storage.Store) plugin.Factory {
	return plugin.Factory{
		Name: Name,
		New: func(h plugin.Host, _ plugin.Config) (plugin.Plugin, error) {
			return New(context.Background(), h, cmds, db)
		},
	}
}

// New migrates the table of the plugin and adds its commands.
func New(ctx context.Context, h plugin.Host, cmds bot.Commands, db storage.Store) (*Definitions, error) {
	if err := db.Migrate(ctx, Name, migrations); err != nil {
		return nil, err
	}
	d := &Definitions{h: h, db: db}
	h.Cleanup(cmds.AddCommand(bot.Command{
		Name:    "define",
		Summary: "Definition",
		Help:    "Stores a definition, or deletes it if the definition is empty.",
		Usage:   "define <name> = [definition]",
		Run: func(ctx context.Context, req bot.Request) string {
			return d.define(ctx, req, false)
		},
	}))
	h.Cleanup(cmds.AddCommand(bot.Command{
		Name:    "lock",
		Summary: "Locked definition",
		Help:    "Stores a definition and locks it against changes by people with a lower access level than yours.",
		Usage:   "lock <name> = [definition]",
		Run: func(ctx context.Context, req bot.Request) string {
			return d.define(ctx, req, true)
		},
	}))
	h.Cleanup(cmds.AddCommand(bot.Command{
		Name:    "whatis",
		Summary: "Show a definition",
		Help:    "Shows a stored definition.",
		Usage:   "whatis <name>",
		Run:     d.whatis,
	}))
	return d, nil
}

func fold(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// Get looks up a definition.
// Names are compared case insensitively and runs of spaces are ignored.
func (d *Definitions) Get(ctx context.Context, name string) (Definition, bool, error) {
	var def Definition
	err := d.db.QueryRowContext(ctx, selectDefinition, fold(name)).Scan(&def.Name, &def.Text, &def.Level)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Definition{}, false, nil
	case err != nil:
		return Definition{}, false, err
	}
	return def, true, nil
}

// Set stores def on behalf of someone with the given access level, deleting it
// if its text is empty.
// If the stored definition is locked at a higher level ErrLocked is returned.
func (d *Definitions) Set(ctx context.Context, def Definition, level int) error {
	name := fold(def.Name)
	old, ok, err := d.Get(ctx, name)
	if err != nil {
		return err
	}
	if ok && old.Level > level {
		return ErrLocked
	}
	if def.Text == "" {
		_, err = d.db.ExecContext(ctx, deleteDefinition, name)
		return err
	}
	_, err = d.db.ExecContext(ctx, upsertDefinition, name, def.Name, def.Text, def.Level)
	return err
}

func (d *Definitions) define(ctx context.Context, req bot.Request, lock bool) string {
	p := req.Printer
	name, text, ok := strings.Cut(req.Args, "=")
	if !ok {
		return p.Sprintf("Something is missing there, boss!")
	}
	name = strings.TrimSpace(name)
	text = strings.TrimSpace(text)
	if name == "" {
		return p.Sprintf("You have to say what you want to define!")
	}

	// Plain definitions are changed at level 0, so locked ones can only be
	// changed with the lock command.
	level := 0
	if lock {
		level = req.Sender.Level
	}
	err := d.Set(ctx, Definition{Name: name, Text: text, Level: level}, level)
	switch {
	case errors.Is(err, ErrLocked):
		return p.Sprintf("Sorry, you are not allowed to change this one.")
	case err != nil:
		d.h.Logger().Printf("definitions: error storing %s: %v", name, err)
		return p.Sprintf("Something went wrong.")
	case text == "":
		return p.Sprintf("Deleted (if it was there at all ;-))")
	}
	return p.Sprintf("%s == %s", name, text)
}

func (d *Definitions) whatis(ctx context.Context, req bot.Request) string {
	p := req.Printer
	name := strings.TrimSpace(req.Args)
	if name == "" {
		return p.Sprintf("What do you want to know?")
	}
	def, ok, err := d.Get(ctx, name)
	if err != nil {
		d.h.Logger().Printf("definitions: error looking up %s: %v", name, err)
		return p.Sprintf("Something went wrong.")
	}
	if !ok {
		return p.Sprintf("I have no idea who or what %s is.", name)
	}
	return p.Sprintf("%s == %s", def.Name, def.Text)
}

func init() {
	err := bot.Translations(language.Czech, [][2]string{
		{"Definition", "Definice"},
		{"Stores a definition, or deletes it if the definition is empty.", "Uloží (příp. smaže) definici do databáze."},
		{"Locked definition", "Definice se zámkem"},
		{"Stores a definition and locks it against changes by people with a lower access level than yours.", "Uloží (příp. smaže) definici do databáze a uzamkne ji proti editaci uživateli s nižšími právy než autor."},
		{"Show a definition", "Zobrazí definici"},
		{"Shows a stored definition.", "Vrátí požadovanou definici z databáze."},
		{"Something is missing there, boss!", "Něco ti tam chybí, šéfiku!"},
		{"You have to say what you want to define!", "Musíš zadat, co chceš definovat!"},
		{"Sorry, you are not allowed to change this one.", "Sorry, ale na tuhle editaci nemáš právo."},
		{"Deleted (if it was there at all ;-))", "Smazáno (pokud to tam teda bylo ;-))"},
		{"What do you want to know?", "Co chceš vědět?"},
		{"I have no idea who or what %s is.", "Vůbec netuším, kdo nebo co je %s."},
		{"Something went wrong.", "Něco se pokazilo."},
	})
	if err != nil {
		panic(err)
	}
}
