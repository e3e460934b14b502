// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package adhoc implements executable ad-hoc commands (XEP-0050) as a plugin.
//
// Commands are advertised through service discovery and may span several
// stages, each of which can carry a data form.
package adhoc // import "mellium.im/keelsbot/adhoc"

import (
	"context"
	"encoding/xml"
	"errors"
	"slices"
	"sync"
	"time"

	"mellium.im/keelsbot/disco"
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/form"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/plugin"
	"mellium.im/keelsbot/stanza"
)

// NS is the namespace used by commands, provided as a convenience.
const NS = ns.Commands

// Name is the name the plugin is registered under.
const Name = "adhoc"

// Actions that can be requested by the executing entity.
const (
	Execute  = "execute"
	Next     = "next"
	Prev     = "prev"
	Complete = "complete"
	Cancel   = "cancel"
)

// Status of a command session.
const (
	Executing = "executing"
	Completed = "completed"
	Canceled  = "canceled"
)

// NoteType indicates the severity of a note.
type NoteType string

// A list of possible NoteType's.
const (
	NoteInfo  NoteType = "info"
	NoteWarn  NoteType = "warn"
	NoteError NoteType = "error"
)

// Note provides information about the status of a command.
type Note struct {
	Type NoteType
	Text string
}

// Element encodes the note.
func (n Note) Element() *element.Element {
	typ := n.Type
	if typ == "" {
		typ = NoteInfo
	}
	return element.New(NS, "note").Set("type", string(typ)).SetText(n.Text)
}

// Request is a stage of a command being executed.
type Request struct {
	From    jid.JID
	Node    string
	Session string
	Action  string
	Lang    string

	// Form is the form submitted with the request, if any.
	Form *form.Data
}

// Response is the outcome of a stage.
type Response struct {
	Form  *form.Data
	Notes []Note

	// Next handles the following stage.
	// If it is nil the command is completed.
	Next Handler
}

// Handler runs a stage of a command.
// Returning a stanza.Error answers the request with that error.
type Handler func(ctx context.Context, req Request) (Response, error)

// Command is a command that can be executed by other entities.
type Command struct {
	Node string
	Name string

	// Allowed reports whether the entity may discover and execute the
	// command. If nil, everyone may.
	Allowed func(from jid.JID) bool

	Run Handler
}

func (c Command) allowed(from jid.JID) bool {
	return c.Allowed == nil || c.Allowed(from)
}

// Config is the configuration block of the plugin.
type Config struct {
	// SessionTimeout is how long an idle multi stage session is kept.
	SessionTimeout time.Duration `toml:"session_timeout"`

	// Timeout limits the time a single stage may take.
	Timeout time.Duration `toml:"timeout"`
}

// DefaultConfig is the configuration used for options that are not set.
var DefaultConfig = Config{
	SessionTimeout: 10 * time.Minute,
	Timeout:        time.Minute,
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

type session struct {
	node    string
	from    jid.JID
	touched time.Time

	// mu serializes the stages of a session.
	mu     sync.Mutex
	stages []Response
}

// Adhoc is the ad-hoc commands plugin.
type Adhoc struct {
	h   plugin.Host
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	commands []Command
	sessions map[string]*session
}

// New creates the plugin and registers its handler with h.
func New(h plugin.Host, cfg Config) *Adhoc {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultConfig.SessionTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	a := &Adhoc{
		h:        h,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	if p, ok := h.Peer(disco.Name); ok {
		d := p.(*disco.Disco)
		h.Cleanup(d.AddFeature(NS))
		h.Cleanup(d.AddProvider(a))
	}
	h.Handle(mask.IQ(string(stanza.SetIQ), xml.Name{Space: NS, Local: "command"}), mux.IQHandler(a.handle), mux.Concurrent())
	return a
}

// AddCommand makes c available until the returned function is called.
// A command with the same node replaces the existing one.
func (a *Adhoc) AddCommand(c Command) (remove func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = slices.DeleteFunc(a.commands, func(o Command) bool { return o.Node == c.Node })
	a.commands = append(a.commands, c)
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.commands = slices.DeleteFunc(a.commands, func(o Command) bool {
			return o.Node == c.Node && o.Name == c.Name
		})
	}
}

// Commands returns the commands that from may execute.
func (a *Adhoc) Commands(from jid.JID) []Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Command
	for _, c := range a.commands {
		if c.allowed(from) {
			out = append(out, c)
		}
	}
	return out
}

func (a *Adhoc) command(node string) (Command, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.commands {
		if c.Node == node {
			return c, true
		}
	}
	return Command{}, false
}

// NodeInfo implements disco.Provider.
func (a *Adhoc) NodeInfo(from jid.JID, node string) (disco.Info, bool) {
	if node == NS {
		return disco.Info{
			Identities: []disco.Identity{{Category: "automation", Type: "command-list", Name: "Commands"}},
		}, true
	}
	c, ok := a.command(node)
	if !ok || !c.allowed(from) {
		return disco.Info{}, false
	}
	return disco.Info{
		Identities: []disco.Identity{{Category: "automation", Type: "command-node", Name: c.Name}},
		Features:   []string{NS, form.NS},
	}, true
}

// NodeItems implements disco.Provider.
func (a *Adhoc) NodeItems(from jid.JID, node string) ([]disco.Item, bool) {
	if node != NS {
		return nil, false
	}
	var items []disco.Item
	for _, c := range a.Commands(from) {
		items = append(items, disco.Item{JID: a.h.JID(), Node: c.Node, Name: c.Name})
	}
	return items, true
}

var errBadSession = stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Text: "unknown or expired session"}

func (a *Adhoc) handle(iq stanza.IQ) error {
	cmd := iq.Payload
	req := Request{
		From:    iq.From,
		Node:    cmd.Get("node"),
		Session: cmd.Get("sessionid"),
		Action:  cmd.Get("action"),
		Lang:    iq.Lang,
	}
	if req.Action == "" {
		req.Action = Execute
	}
	if x := cmd.Find(form.NS, "x"); x != nil {
		data, err := form.Decode(x)
		if err != nil {
			return a.h.Send(iq.Error(stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Text: err.Error()}).Element())
		}
		req.Form = data
	}

	c, ok := a.command(req.Node)
	if !ok {
		return a.h.Send(iq.Error(stanza.Error{Type: stanza.Cancel, Condition: stanza.ItemNotFound}).Element())
	}
	if !c.allowed(iq.From) {
		return a.h.Send(iq.Error(stanza.Error{Type: stanza.Cancel, Condition: stanza.Forbidden}).Element())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	if req.Session == "" {
		if req.Action != Execute {
			return a.h.Send(iq.Error(errBadSession).Element())
		}
		req.Session = a.h.NewID()
		resp, err := c.Run(ctx, req)
		if err != nil {
			return a.fail(iq, req, err)
		}
		s := &session{node: req.Node, from: iq.From, stages: []Response{resp}}
		if resp.Next != nil {
			a.store(req.Session, s)
		}
		return a.reply(iq, req, s)
	}

	s, ok := a.session(req.Session, iq.From, req.Node)
	if !ok {
		return a.h.Send(iq.Error(errBadSession).Element())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch req.Action {
	case Cancel:
		a.drop(req.Session)
		return a.h.Send(iq.Result(a.commandElement(req, Canceled, nil, false)).Element())
	case Prev:
		if len(s.stages) < 2 {
			return a.h.Send(iq.Error(stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Text: "no previous stage"}).Element())
		}
		s.stages = s.stages[:len(s.stages)-1]
		return a.reply(iq, req, s)
	case Execute, Next, Complete:
	default:
		return a.h.Send(iq.Error(stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Text: "malformed action"}).Element())
	}

	next := s.stages[len(s.stages)-1].Next
	resp, err := next(ctx, req)
	if err != nil {
		a.drop(req.Session)
		return a.fail(iq, req, err)
	}
	if req.Action == Complete {
		resp.Next = nil
	}
	s.stages = append(s.stages, resp)
	return a.reply(iq, req, s)
}

// reply answers iq with the latest stage of s.
func (a *Adhoc) reply(iq stanza.IQ, req Request, s *session) error {
	resp := s.stages[len(s.stages)-1]
	status := Completed
	if resp.Next != nil {
		status = Executing
	} else {
		a.drop(req.Session)
	}
	e := a.commandElement(req, status, resp.Notes, len(s.stages) > 1)
	if resp.Form != nil {
		e.Append(resp.Form.Element())
	}
	return a.h.Send(iq.Result(e).Element())
}

func (a *Adhoc) commandElement(req Request, status string, notes []Note, prev bool) *element.Element {
	e := element.New(NS, "command").
		Set("node", req.Node).
		Set("sessionid", req.Session).
		Set("status", status)
	if status == Executing {
		actions := element.New(NS, "actions").Set("execute", Next)
		if prev {
			actions.Append(element.New(NS, Prev))
		}
		actions.Append(element.New(NS, Next), element.New(NS, Complete))
		e.Append(actions)
	}
	for _, n := range notes {
		e.Append(n.Element())
	}
	return e
}

// fail reports a failing stage.
// Stanza errors are returned as is, anything else completes the command with
// an error note.
func (a *Adhoc) fail(iq stanza.IQ, req Request, err error) error {
	var se stanza.Error
	if errors.As(err, &se) {
		return a.h.Send(iq.Error(se).Element())
	}
	a.h.Debug().Printf("command %s failed: %v", req.Node, err)
	e := a.commandElement(req, Completed, []Note{{Type: NoteError, Text: err.Error()}}, false)
	return a.h.Send(iq.Result(e).Element())
}

func (a *Adhoc) store(id string, s *session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s.touched = a.now()
	a.sessions[id] = s
}

// session returns the live session id started by from, expiring idle
// sessions on the way.
func (a *Adhoc) session(id string, from jid.JID, node string) (*session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for k, s := range a.sessions {
		if now.Sub(s.touched) > a.cfg.SessionTimeout {
			delete(a.sessions, k)
		}
	}
	s, ok := a.sessions[id]
	if !ok || !s.from.Equal(from) || s.node != node {
		return nil, false
	}
	s.touched = now
	return s, true
}

func (a *Adhoc) drop(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
}

// Sessions returns the number of multi stage sessions in progress.
func (a *Adhoc) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
