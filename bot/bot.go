// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package bot implements a command driven chat bot on top of a client.
//
// Messages that start with the command prefix are looked up in the set of
// registered commands and run if the sender's access level permits it.
// Commands come from the bot itself and from plugins, which add and remove
// them through the Commands interface.
package bot // import "mellium.im/keelsbot/bot"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/message"

	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/muc"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

// ErrNoMUC is returned by operations on rooms when the muc plugin is not
// loaded.
var ErrNoMUC = errors.New("bot: muc plugin is not loaded")

// Errors returned by Execute and Reply.
var (
	ErrUnknownCommand = errors.New("bot: unknown command")
	ErrNotAllowed     = errors.New("bot: not allowed to run command")
	ErrNoMessage      = errors.New("bot: request did not come from a message")
)

// Client is the connection driven by the bot.
type Client interface {
	plugin.Conn
	RequestRoster() error
	Die()
}

// Commands is implemented by the bot and given to plugins that add commands.
type Commands interface {
	// AddCommand registers c, replacing any command with the same name, and
	// returns a function that removes it again.
	AddCommand(c Command) (remove func())
}

// Command is a chat command.
type Command struct {
	Name string

	// Summary is shown in the command list, Help and Usage by the help
	// command. Usage is given without the prefix.
	Summary string
	Help    string
	Usage   string

	// Level is the access level required to run the command unless the
	// configuration overrides it.
	Level int

	// Run returns the reply. An empty reply is not sent.
	Run func(ctx context.Context, req Request) string
}

// Request is an invocation of a command.
type Request struct {
	Args    string
	Sender  Sender
	Message event.Message
	Printer *message.Printer
}

// Sender describes who sent a command.
type Sender struct {
	// JID is the bare address of the sender. For room occupants it is their
	// real address and is zero if the room does not reveal it.
	JID jid.JID

	// Room is the bare address of the room the message was sent from or
	// through. It is zero for direct messages.
	Room jid.JID
	Nick string

	Level int

	// System is set for messages that are not from a person, such as room
	// announcements and our own messages reflected by the room.
	System bool
}

// Options configure a bot.
type Options struct {
	Config Config

	// Reload returns a fresh configuration when the bot is rehashed.
	// If nil rehashing keeps the current configuration.
	Reload func() (Config, error)

	// Core lists plugins that are loaded before the configured plugins and
	// are left alone by rehash.
	Core []string

	Logger *log.Logger
	Debug  *log.Logger
}

// Bot dispatches chat commands.
type Bot struct {
	conn    Client
	reg     *plugin.Registry
	reload  func() (Config, error)
	core    []string
	logger  *log.Logger
	debug   *log.Logger
	started time.Time

	mu       sync.Mutex
	cfg      Config
	acl      acl
	printer  *message.Printer
	commands map[string]*Command
	rooms    map[string]Room
	restart  bool
}

// New returns a bot that handles messages arriving on conn.
// Plugins are loaded from reg by Load.
func New(conn Client, reg *plugin.Registry, opts Options) *Bot {
	b := &Bot{
		conn:     conn,
		reg:      reg,
		reload:   opts.Reload,
		core:     opts.Core,
		logger:   opts.Logger,
		debug:    opts.Debug,
		started:  time.Now(),
		commands: make(map[string]*Command),
		rooms:    make(map[string]Room),
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard, "", 0)
	}
	if b.debug == nil {
		b.debug = log.New(io.Discard, "", 0)
	}
	b.setConfig(opts.Config)
	b.addBuiltins()

	bus := conn.Events()
	bus.On(event.SessionStart, event.Typed(b.start), event.Concurrent())
	bus.On(event.ChatMessage, event.Typed(b.handleMessage), event.Concurrent())
	bus.On(event.GroupchatMessage, event.Typed(b.handleMessage), event.Concurrent())
	return b
}

func (b *Bot) setConfig(cfg Config) {
	cfg = cfg.withDefaults()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.acl = newACL(cfg.Groups)
	b.printer = message.NewPrinter(cfg.language())
}

// Config returns the current configuration.
func (b *Bot) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Printer returns the printer used to localize replies.
func (b *Bot) Printer() *message.Printer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.printer
}

// Level returns the access level of a bare address.
func (b *Bot) Level(j jid.JID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acl.level(j)
}

// Restarting reports whether the bot was stopped by a restart command.
func (b *Bot) Restarting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restart
}

// AddCommand implements Commands.
func (b *Bot) AddCommand(c Command) (remove func()) {
	cmd := &c
	b.mu.Lock()
	b.commands[c.Name] = cmd
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.commands[c.Name] == cmd {
			delete(b.commands, c.Name)
		}
	}
}

// Commands returns the registered commands sorted by name with their
// effective levels.
func (b *Bot) Commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := slices.Sorted(maps.Keys(b.commands))
	out := make([]Command, 0, len(names))
	for _, name := range names {
		c := *b.commands[name]
		c.Level = b.commandLevel(&c)
		out = append(out, c)
	}
	return out
}

func (b *Bot) command(name string) (Command, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.commands[name]
	if !ok {
		return Command{}, false
	}
	cmd := *c
	cmd.Level = b.commandLevel(c)
	return cmd, true
}

// commandLevel must be called with b.mu held.
func (b *Bot) commandLevel(c *Command) int {
	if l, ok := b.cfg.Levels[c.Name]; ok {
		return l
	}
	return c.Level
}

// Allowed reports whether a sender at the given level may run c.
func (b *Bot) Allowed(level int, c Command) bool {
	return level >= 0 && level >= b.Config().MinLevel && level >= c.Level
}

func (b *Bot) mucPlugin() (*muc.MUC, bool) {
	p, ok := b.reg.Get(muc.Name)
	if !ok {
		return nil, false
	}
	m, ok := p.(*muc.MUC)
	return m, ok
}

// sender resolves the sender of m and its access level.
func (b *Bot) sender(m event.Message) Sender {
	s := Sender{Nick: m.Resource}
	rooms, haveMUC := b.mucPlugin()
	inRoom := haveMUC && rooms.IsRoom(m.JID)
	if m.Type != stanza.GroupChatMessage && !inRoom {
		s.JID = m.JID
		s.Level = b.Level(m.JID)
		return s
	}

	s.Room = m.JID
	if m.Type == stanza.GroupChatMessage {
		if !inRoom || m.Resource == "" {
			s.System = true
			return s
		}
		if own, _ := rooms.Nick(m.JID); own == m.Resource {
			s.System = true
			return s
		}
	}
	if o, ok := rooms.Occupant(m.JID, m.Resource); ok && !o.JID.IsZero() {
		s.JID = o.JID.Bare()
		s.Level = b.Level(s.JID)
	}
	return s
}

// parse splits the first line of a message into a command name and its
// arguments.
func parse(prefix, body string) (name, args string, ok bool) {
	line, _, _ := strings.Cut(body, "\n")
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, prefix) {
		return "", "", false
	}
	name, args, _ = strings.Cut(line[len(prefix):], " ")
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

func (b *Bot) handleMessage(m event.Message) {
	if m.Stanza.Delay != nil {
		return
	}
	cfg := b.Config()
	name, args, ok := parse(cfg.Prefix, m.Body)
	if !ok {
		return
	}
	cmd, ok := b.command(name)
	if !ok {
		b.debug.Printf("unknown command %q from %s", name, m.Stanza.From)
		return
	}
	s := b.sender(m)
	if s.System {
		return
	}
	b.debug.Printf("command %s from %s (level %d, required %d)", name, m.Stanza.From, s.Level, cmd.Level)
	if !b.Allowed(s.Level, cmd) {
		return
	}

	req := Request{
		Args:    args,
		Sender:  s,
		Message: m,
		Printer: b.Printer(),
	}
	resp := b.run(context.Background(), cmd, req)
	if resp == "" {
		return
	}
	if err := b.Reply(req, resp); err != nil {
		b.logger.Printf("error replying to %s: %v", m.Stanza.From, err)
	}
}

func (b *Bot) run(ctx context.Context, cmd Command, req Request) (resp string) {
	defer func() {
		if v := recover(); v != nil {
			b.logger.Printf("command %s panicked: %v", cmd.Name, v)
			resp = ""
		}
	}()
	return cmd.Run(ctx, req)
}

// Execute runs a command on behalf of s without a chat message, for instance
// from an ad-hoc command, and returns its reply.
func (b *Bot) Execute(ctx context.Context, s Sender, name, args string) (string, error) {
	cmd, ok := b.command(name)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	if !b.Allowed(s.Level, cmd) {
		return "", ErrNotAllowed
	}
	b.debug.Printf("executing %s for %s (level %d, required %d)", name, s.JID, s.Level, cmd.Level)
	return b.run(ctx, cmd, Request{
		Args:    args,
		Sender:  s,
		Printer: b.Printer(),
	}), nil
}

// Reply answers the message of req.
// In rooms the reply goes to the room addressed to the sender's nick,
// otherwise to the full address the message came from.
func (b *Bot) Reply(req Request, text string) error {
	m := req.Message
	if m.Stanza.From.IsZero() {
		return ErrNoMessage
	}
	if m.Type == stanza.GroupChatMessage {
		msg := stanza.NewMessage(m.JID, req.Sender.Nick+": "+text, "", stanza.GroupChatMessage)
		return b.conn.Send(msg.Element())
	}
	msg := stanza.NewMessage(m.Stanza.From, text, "", m.Type)
	return b.conn.Send(msg.Element())
}

// Load registers the core plugins and then every configured plugin.
// Plugins that fail to load are logged and left out.
func (b *Bot) Load() error {
	cfg := b.Config()
	err := b.loadPlugins(slices.Clone(b.core), cfg.Plugins)
	return errors.Join(err, b.loadPlugins(b.configured(cfg), cfg.Plugins))
}

// configured returns the names of configured plugins that are not core.
func (b *Bot) configured(cfg Config) []string {
	var names []string
	for _, name := range slices.Sorted(maps.Keys(cfg.Plugins)) {
		if !slices.Contains(b.core, name) {
			names = append(names, name)
		}
	}
	return names
}

// loadPlugins registers names, retrying plugins whose peers were not yet
// active for as long as another plugin could be loaded.
func (b *Bot) loadPlugins(names []string, cfg map[string]plugin.Config) error {
	var errs []error
	for len(names) > 0 {
		var waiting []string
		var missing []error
		for _, name := range names {
			err := b.reg.Register(name, cfg[name])
			switch {
			case err == nil:
			case errors.Is(err, plugin.ErrMissingPeer):
				waiting = append(waiting, name)
				missing = append(missing, err)
			default:
				b.logger.Printf("error loading plugin %s: %v", name, err)
				errs = append(errs, err)
			}
		}
		if len(waiting) == len(names) {
			for _, err := range missing {
				b.logger.Printf("error loading plugin: %v", err)
			}
			errs = append(errs, missing...)
			break
		}
		names = waiting
	}
	return errors.Join(errs...)
}

// LoadPlugin registers a single plugin using its configuration block.
func (b *Bot) LoadPlugin(name string) error {
	return b.reg.Register(name, b.Config().Plugins[name])
}

// ReloadPlugin reloads a plugin using its configuration block.
func (b *Bot) ReloadPlugin(name string) error {
	return b.reg.Reload(name, b.Config().Plugins[name])
}

// UnloadPlugin deregisters a plugin.
func (b *Bot) UnloadPlugin(name string) error {
	return b.reg.Deregister(name)
}

// Rehash reads the configuration again, reloads every plugin that is not core
// and joins or leaves rooms to match the new room list.
// The connection is kept.
func (b *Bot) Rehash() error {
	cfg := b.Config()
	if b.reload != nil {
		var err error
		cfg, err = b.reload()
		if err != nil {
			return err
		}
	}
	b.logger.Printf("rehashing")
	for _, name := range slices.Backward(b.reg.Active()) {
		if slices.Contains(b.core, name) {
			continue
		}
		if err := b.reg.Deregister(name); err != nil {
			b.logger.Printf("error unloading plugin %s: %v", name, err)
		}
	}
	b.setConfig(cfg)
	cfg = b.Config()
	err := b.loadPlugins(b.configured(cfg), cfg.Plugins)
	return errors.Join(err, b.syncRooms())
}

// Die unloads every plugin and disconnects for good.
func (b *Bot) Die() {
	b.logger.Printf("shutting down")
	b.reg.DeregisterAll()
	b.mu.Lock()
	b.rooms = make(map[string]Room)
	b.mu.Unlock()
	b.conn.Die()
}

// Restart is like Die but marks the bot to be started again.
func (b *Bot) Restart() {
	b.mu.Lock()
	b.restart = true
	b.mu.Unlock()
	b.Die()
}

func (b *Bot) start(event.Session) {
	if err := b.conn.RequestRoster(); err != nil {
		b.logger.Printf("error requesting roster: %v", err)
	}
	cfg := b.Config()
	p := stanza.NewPresence("", cfg.Status, cfg.Priority, stanza.AvailablePresence, jid.JID{})
	if err := b.conn.Send(p.Element()); err != nil {
		b.logger.Printf("error sending initial presence: %v", err)
	}
	if m, ok := b.mucPlugin(); ok {
		if err := m.Rejoin(); err != nil {
			b.logger.Printf("error rejoining rooms: %v", err)
		}
	}
	if err := b.syncRooms(); err != nil {
		b.logger.Printf("error joining rooms: %v", err)
	}
}

// syncRooms leaves configured rooms that are no longer in the configuration
// and joins those that are new or were never joined.
func (b *Bot) syncRooms() error {
	m, ok := b.mucPlugin()
	if !ok {
		return ErrNoMUC
	}
	cfg := b.Config()
	want := make(map[string]Room)
	addrs := make(map[string]jid.JID)
	for _, r := range cfg.Rooms {
		j, err := jid.Parse(r.JID)
		if err != nil {
			b.logger.Printf("invalid room address %q: %v", r.JID, err)
			continue
		}
		if r.Nick == "" {
			r.Nick = cfg.Nick
		}
		k := j.Bare().String()
		want[k] = r
		addrs[k] = j.Bare()
	}

	b.mu.Lock()
	have := b.rooms
	b.rooms = want
	b.mu.Unlock()

	var errs []error
	for _, k := range slices.Sorted(maps.Keys(have)) {
		if _, ok := want[k]; ok {
			continue
		}
		j, err := jid.Parse(k)
		if err != nil {
			continue
		}
		b.logger.Printf("leaving room %s", k)
		if err := m.Leave(j, ""); err != nil && !errors.Is(err, muc.ErrNotJoined) {
			errs = append(errs, err)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(want)) {
		if m.IsRoom(addrs[k]) {
			continue
		}
		r := want[k]
		b.logger.Printf("joining room %s as %s", k, r.Nick)
		errs = append(errs, m.Join(addrs[k], r.Nick, r.Password))
	}
	return errors.Join(errs...)
}
