// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/logwriter"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/internal/pool"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/roster"
	"mellium.im/keelsbot/stanza"
	"mellium.im/keelsbot/stream"
)

// Errors returned by the Client.
var (
	ErrAuthFailed   = errors.New("xmpp: authentication failed")
	ErrNotConnected = errors.New("xmpp: not connected")
	ErrNoFeatures   = errors.New("xmpp: no usable stream features")
	ErrTLSFailed    = errors.New("xmpp: server refused StartTLS")
	ErrReconnect    = errors.New("xmpp: reconnect requested")
	ErrTimeout      = mux.ErrTimeout
)

// session is the state of a single connection attempt.
type session struct {
	ctx context.Context
	t   *transport

	// Only touched by the parse goroutine.
	offered   map[xml.Name]*element.Element
	restart   bool
	streamErr error
	handlers  []mux.ID

	mu    sync.Mutex
	state SessionState
	err   error
}

func (s *session) setState(bits SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state |= bits
}

func (s *session) getState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// fail records the error that ends the session and closes the stream.
// Only the first error is kept.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.t.close()
}

func (s *session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Client is an XMPP client connection supervisor.
type Client struct {
	opts     Options
	mux      *mux.ServeMux
	bus      *event.Bus
	pool     *pool.Pool
	ids      stanza.IDGen
	roster   roster.Roster
	features []StreamFeature
	logger   *log.Logger
	debug    *log.Logger

	mu            sync.Mutex
	cur           *session
	jid           jid.JID
	autoReconnect bool
	died          bool
	sessions      int
	wake          chan struct{}
	filters       []sendFilter
	nextFilter    FilterID
	onStart       []func(stream.Info)
	onEnd         []func()
}

// New returns a client that is not yet connected.
// Call Run to connect.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	c := &Client{
		opts:          opts,
		pool:          opts.Pool,
		logger:        opts.Logger,
		debug:         opts.Debug,
		jid:           opts.JID,
		autoReconnect: !opts.NoReconnect,
		wake:          make(chan struct{}, 1),
	}
	c.mux = mux.New(mux.Logger(opts.Logger), mux.Pool(opts.Pool))
	c.bus = event.NewBus(opts.Pool, opts.Logger)
	c.features = append([]StreamFeature{StartTLS(), SASL(), BindResource(), Session()}, opts.Features...)
	c.handleBuiltins()
	return c
}

// Mux returns the handler registry incoming stanzas are dispatched to.
func (c *Client) Mux() *mux.ServeMux {
	return c.mux
}

// Events returns the bus that session events are emitted on.
func (c *Client) Events() *event.Bus {
	return c.bus
}

// Roster returns the roster and presence cache.
func (c *Client) Roster() *roster.Roster {
	return &c.roster
}

// Pool returns the executor used for concurrent handlers.
func (c *Client) Pool() *pool.Pool {
	return c.pool
}

// Logger returns the informational logger.
func (c *Client) Logger() *log.Logger {
	return c.logger
}

// Options returns the options the client was created with, including
// defaults.
func (c *Client) Options() Options {
	return c.opts
}

// NewID returns a new unique stanza ID.
func (c *Client) NewID() string {
	return c.ids.Next()
}

// JID returns the full address bound for the session or, before a resource
// has ever been bound, the configured address.
func (c *Client) JID() jid.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jid
}

func (c *Client) setJID(j jid.JID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jid = j
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// State returns the state of the current connection or 0 when there is none.
func (c *Client) State() SessionState {
	s := c.current()
	if s == nil {
		return 0
	}
	return s.getState()
}

// OnStreamStart registers f to be called every time the server opens a
// stream, including after stream restarts.
// Start handlers run on the client pool so that they cannot stall parsing.
func (c *Client) OnStreamStart(f func(stream.Info)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStart = append(c.onStart, f)
}

// OnStreamEnd registers f to be called when the server closes the stream.
func (c *Client) OnStreamEnd(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnd = append(c.onEnd, f)
}

// AutoReconnect reports whether the client will reconnect after losing the
// connection.
func (c *Client) AutoReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoReconnect
}

// SetAutoReconnect enables or disables reconnecting.
// Disabling it while Run is waiting to reconnect makes Run return
// immediately.
func (c *Client) SetAutoReconnect(v bool) {
	c.mu.Lock()
	c.autoReconnect = v
	c.mu.Unlock()
	if !v {
		c.signal()
	}
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Disconnect closes the current stream cleanly.
// Run returns once the server acknowledges the close.
func (c *Client) Disconnect() {
	if s := c.current(); s != nil {
		s.t.close()
	}
}

// Die disables reconnection and closes the current stream.
func (c *Client) Die() {
	c.mu.Lock()
	c.died = true
	c.autoReconnect = false
	s := c.cur
	c.mu.Unlock()
	c.signal()
	if s != nil {
		s.t.close()
	}
}

// Reconnect drops the current connection as if it had been lost.
// If auto reconnect is enabled Run connects again after ReconnectDelay.
func (c *Client) Reconnect() {
	s := c.current()
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = ErrReconnect
	}
	s.mu.Unlock()
	s.t.abort()
}

// Run connects and processes the stream until the connection is closed
// cleanly, ctx is canceled or Die is called.
// If the connection is lost it reconnects after ReconnectDelay for as long as
// auto reconnect is enabled.
// Authentication failures are never retried and result in ErrAuthFailed.
func (c *Client) Run(ctx context.Context) error {
	for {
		outcome, err := c.runOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrAuthFailed):
			return err
		case outcome == Clean:
			return nil
		}
		c.logger.Printf("connection lost: %v", err)
		if !c.waitReconnect(ctx) {
			c.mu.Lock()
			died := c.died
			c.mu.Unlock()
			if died || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Client) waitReconnect(ctx context.Context) bool {
	select {
	case <-c.wake:
	default:
	}
	if !c.AutoReconnect() {
		return false
	}
	c.logger.Printf("reconnecting in %s", c.opts.ReconnectDelay)
	t := time.NewTimer(c.opts.ReconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.wake:
	case <-ctx.Done():
		return false
	}
	return c.AutoReconnect()
}

func (c *Client) runOnce(ctx context.Context) (Outcome, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		c.bus.Emit(event.Disconnected, event.Disconnect{Err: err})
		return Lost, err
	}
	s := &session{
		ctx: ctx,
		t: newTransport(conn, logwriter.New(c.opts.Recv), logwriter.New(c.opts.Sent), c.opts.DisconnectTimeout),
	}
	c.mu.Lock()
	c.cur = s
	died := c.died
	c.mu.Unlock()
	if died {
		s.t.close()
	}
	stop := context.AfterFunc(ctx, s.t.close)

	c.logger.Printf("connected to %s", conn.RemoteAddr())
	c.bus.Emit(event.Connected, nil)
	outcome, err := c.process(ctx, s)
	stop()
	s.t.abort()
	for _, id := range s.handlers {
		c.mux.Remove(id)
	}

	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
	c.roster.ClearPresence()
	c.debug.Printf("stream ended: outcome=%s err=%v", outcome, err)
	c.bus.Emit(event.Disconnected, event.Disconnect{Err: err})
	return outcome, err
}

func (c *Client) header() stream.Header {
	return stream.Header{
		To:    c.opts.JID.Domain(),
		Lang:  c.opts.Lang,
		XMLNS: ns.Client,
	}
}

// process sends stream headers and parses the resulting streams until the
// outcome is something other than a restart.
func (c *Client) process(ctx context.Context, s *session) (Outcome, error) {
	for {
		if err := s.t.sendHeader(c.header()); err != nil {
			if ferr := s.failure(); ferr != nil {
				return Lost, ferr
			}
			return Lost, err
		}
		outcome, err := c.parse(ctx, s)
		if outcome != Restart {
			return outcome, err
		}
		c.debug.Printf("restarting stream")
	}
}

func (c *Client) parse(ctx context.Context, s *session) (Outcome, error) {
	p := stream.NewParser(s.t.reader())
	for {
		ev, err := p.Next()
		if err != nil {
			if ferr := s.failure(); ferr != nil {
				return Lost, ferr
			}
			if s.t.closing() || ctx.Err() != nil {
				return Clean, nil
			}
			return Lost, err
		}

		switch ev.Kind {
		case stream.Start:
			c.debug.Printf("stream %s opened by %s", ev.Info.ID, ev.Info.From)
			c.streamStart(ev.Info)
		case stream.End:
			s.setState(InputStreamClosed)
			s.t.close()
			c.streamEnd()
			if ferr := s.failure(); ferr != nil {
				return Lost, ferr
			}
			if s.streamErr != nil {
				return Lost, s.streamErr
			}
			return Clean, nil
		case stream.Element:
			c.dispatch(s, ev.Element)
			if s.restart {
				s.restart = false
				return Restart, nil
			}
		}
	}
}

func (c *Client) dispatch(s *session, e *element.Element) {
	n := c.mux.Dispatch(e)
	if n != 0 || !e.Is(ns.Client, "iq") {
		return
	}
	if reply := mux.IQFallback(e); reply != nil {
		if err := s.t.writeElement(reply); err != nil {
			c.debug.Printf("could not answer unhandled iq: %v", err)
		}
	}
}

func (c *Client) streamStart(info stream.Info) {
	c.mu.Lock()
	handlers := append([]func(stream.Info){}, c.onStart...)
	c.mu.Unlock()
	for _, f := range handlers {
		f := f
		err := c.pool.Go(context.Background(), func() {
			defer c.recover("stream start")
			f(info)
		})
		if err != nil {
			c.logger.Printf("could not schedule stream start handler: %v", err)
		}
	}
}

func (c *Client) streamEnd() {
	c.mu.Lock()
	handlers := append([]func(){}, c.onEnd...)
	c.mu.Unlock()
	for _, f := range handlers {
		func() {
			defer c.recover("stream end")
			f()
		}()
	}
}

func (c *Client) recover(what string) {
	if v := recover(); v != nil {
		c.logger.Printf("%s handler panicked: %v\n%s", what, v, debug.Stack())
	}
}
