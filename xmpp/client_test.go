// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/internal/pool"
	"mellium.im/keelsbot/internal/xmpptest"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
	"mellium.im/keelsbot/stanza"
	"mellium.im/keelsbot/stream"
	"mellium.im/keelsbot/xmpp"
)

const (
	domain  = "example.net"
	full    = "juliet@example.net/balcony"
	romeo   = "romeo@example.net/orchard"
	waitFor = 5 * time.Second
)

type harness struct {
	c      *xmpp.Client
	s      *xmpptest.Server
	ready  chan event.Session
	done   chan error
	exited chan struct{}
	dials  atomic.Int32
}

// start runs a client connected to a scripted server over an in memory pipe.
// The client can only dial once.
// setup is called before Run to register handlers.
func start(t *testing.T, opts xmpp.Options, setup func(c *xmpp.Client)) *harness {
	t.Helper()
	conn, s := xmpptest.Pipe()
	h := &harness{
		s:      s,
		ready:  make(chan event.Session, 1),
		done:   make(chan error, 1),
		exited: make(chan struct{}),
	}
	if opts.JID.IsZero() {
		opts.JID = jid.MustParse(full)
	}
	opts.Password = "secret"
	opts.Address = domain + ":5222"
	opts.NoTLS = true
	opts.DisconnectTimeout = time.Second
	opts.Dial = func(context.Context, string, string) (net.Conn, error) {
		if h.dials.Add(1) > 1 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}
	p := pool.New(4)
	opts.Pool = p
	opts.Logger = xmpptest.Logger(t, "xmpp: ")

	h.c = xmpp.New(opts)
	h.c.Events().On(event.SessionStart, event.Typed(func(sess event.Session) {
		h.ready <- sess
	}))
	if setup != nil {
		setup(h.c)
	}
	go func() {
		defer close(h.exited)
		h.done <- h.c.Run(context.Background())
	}()
	t.Cleanup(func() {
		s.Conn().Close()
		h.c.Die()
		select {
		case <-h.exited:
		case <-time.After(waitFor):
			t.Errorf("Run did not return")
		}
		p.Wait()
	})
	return h
}

// login plays the server side of a plain text login and waits for the
// session to start.
func (h *harness) login(t *testing.T) {
	t.Helper()
	if err := h.s.Login(full); err != nil {
		t.Fatalf("Error during login: %v", err)
	}
	select {
	case sess := <-h.ready:
		if sess.JID.String() != full {
			t.Fatalf("Wrong session JID: want=%s, got=%s", full, sess.JID)
		}
	case <-time.After(waitFor):
		t.Fatalf("Timed out waiting for session_start")
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitFor):
		t.Fatalf("Timed out waiting for Run to return")
	}
	return nil
}

// shutdown closes the stream from the client and answers the close.
func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	go h.c.Die()
	if _, err := h.s.Next(); !errors.Is(err, xmpptest.ErrStreamEnd) {
		t.Fatalf("Expected the client to close the stream, got %v", err)
	}
	if err := h.s.Close(); err != nil {
		t.Fatalf("Error closing the server stream: %v", err)
	}
	if err := h.wait(t); err != nil {
		t.Errorf("Unexpected error from Run after Die: %v", err)
	}
}

func recv[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(waitFor):
		t.Fatalf("Timed out waiting on channel")
	}
	var zero T
	return zero
}

func TestSessionStart(t *testing.T) {
	h := start(t, xmpp.Options{}, nil)
	h.login(t)
	if j := h.c.JID(); j.String() != full {
		t.Errorf("Wrong bound JID: want=%s, got=%s", full, j)
	}
	const want = xmpp.Authn | xmpp.Bound | xmpp.Ready
	if st := h.c.State(); st&want != want {
		t.Errorf("Wrong session state: want bits %08b, got %08b", want, st)
	}
	h.shutdown(t)
	if n := h.dials.Load(); n != 1 {
		t.Errorf("Expected a single dial, got %d", n)
	}
}

func TestSendIQ(t *testing.T) {
	h := start(t, xmpp.Options{}, nil)
	h.login(t)

	type result struct {
		iq  stanza.IQ
		err error
	}
	results := make(chan result, 1)
	go func() {
		iq := h.c.MakeIQGet(jid.MustParse(domain), element.New(ns.Ping, "ping"))
		reply, err := h.c.SendIQ(context.Background(), iq, time.Second)
		results <- result{iq: reply, err: err}
	}()
	req, err := h.s.Expect("iq")
	if err != nil {
		t.Fatalf("Error reading request: %v", err)
	}
	err = h.s.Send(`<iq type='result' from='example.net' id='` + req.Get("id") + `'/>`)
	if err != nil {
		t.Fatalf("Error sending reply: %v", err)
	}
	r := recv(t, results)
	if r.err != nil {
		t.Fatalf("Unexpected error: %v", r.err)
	}
	if r.iq.Type != stanza.ResultIQ || r.iq.ID != req.Get("id") {
		t.Errorf("Wrong reply: %+v", r.iq)
	}

	go func() {
		iq := h.c.MakeIQGet(jid.MustParse(domain), element.New(ns.Version, "query"))
		reply, err := h.c.SendIQ(context.Background(), iq, time.Second)
		results <- result{iq: reply, err: err}
	}()
	req, err = h.s.Expect("iq")
	if err != nil {
		t.Fatalf("Error reading request: %v", err)
	}
	err = h.s.Send(`<iq type='error' from='example.net' id='` + req.Get("id") + `'><error type='cancel'><feature-not-implemented xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></iq>`)
	if err != nil {
		t.Fatalf("Error sending reply: %v", err)
	}
	r = recv(t, results)
	var se stanza.Error
	if !errors.As(r.err, &se) || se.Condition != stanza.FeatureNotImplemented {
		t.Errorf("Expected feature-not-implemented error, got %v", r.err)
	}
	h.shutdown(t)
}

func TestSendIQTimeout(t *testing.T) {
	h := start(t, xmpp.Options{}, nil)
	h.login(t)

	before := h.c.Mux().Len()
	errs := make(chan error, 1)
	go func() {
		iq := h.c.MakeIQGet(jid.MustParse(domain), element.New(ns.Ping, "ping"))
		_, err := h.c.SendIQ(context.Background(), iq, 50*time.Millisecond)
		errs <- err
	}()
	req, err := h.s.Expect("iq")
	if err != nil {
		t.Fatalf("Error reading request: %v", err)
	}
	if err = recv(t, errs); !errors.Is(err, xmpp.ErrTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if after := h.c.Mux().Len(); after != before {
		t.Errorf("Wait was not removed: %d registrations before, %d after", before, after)
	}

	// The late reply is dropped and the next request nobody handles is
	// answered with an error.
	if err = h.s.Send(`<iq type='result' id='` + req.Get("id") + `'/>`); err != nil {
		t.Fatalf("Error sending late reply: %v", err)
	}
	if err = h.s.Send(`<iq type='get' id='p1' from='example.net'><ping xmlns='urn:xmpp:ping'/></iq>`); err != nil {
		t.Fatalf("Error sending ping: %v", err)
	}
	e, err := h.s.Expect("iq")
	if err != nil {
		t.Fatalf("Error reading fallback reply: %v", err)
	}
	if e.Get("type") != "error" || e.Get("id") != "p1" {
		t.Fatalf("Wrong fallback reply: %s", e)
	}
	if se := stanza.DecodeError(e.Find("", "error")); se.Condition != stanza.ServiceUnavailable {
		t.Errorf("Wrong fallback condition: %s", se.Condition)
	}
	h.shutdown(t)
}

func TestHandlerPanic(t *testing.T) {
	bodies := make(chan string, 2)
	h := start(t, xmpp.Options{}, func(c *xmpp.Client) {
		c.Mux().HandleFunc(mask.Message(), func(*element.Element) error {
			panic("boom")
		})
		c.Mux().Handle(mask.Message(), mux.MessageHandler(func(m stanza.Message) error {
			bodies <- m.Body
			return nil
		}))
	})
	h.login(t)
	for _, body := range []string{"one", "two"} {
		err := h.s.Send(`<message from='` + romeo + `' type='chat'><body>` + body + `</body></message>`)
		if err != nil {
			t.Fatalf("Error sending message: %v", err)
		}
		if got := recv(t, bodies); got != body {
			t.Errorf("Wrong body: want=%q, got=%q", body, got)
		}
	}
	h.shutdown(t)
}

func TestAuthFailure(t *testing.T) {
	failures := make(chan event.AuthFailure, 1)
	h := start(t, xmpp.Options{ReconnectDelay: 10 * time.Millisecond}, func(c *xmpp.Client) {
		c.Events().On(event.FailedAuth, event.Typed(func(f event.AuthFailure) {
			failures <- f
		}))
	})
	if _, err := h.s.Open(xmpptest.Mechanisms); err != nil {
		t.Fatalf("Error opening stream: %v", err)
	}
	if _, err := h.s.Expect("auth"); err != nil {
		t.Fatalf("Error reading auth: %v", err)
	}
	err := h.s.Send(`<failure xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><not-authorized/></failure>`)
	if err != nil {
		t.Fatalf("Error sending failure: %v", err)
	}
	if _, err = h.s.Next(); !errors.Is(err, xmpptest.ErrStreamEnd) {
		t.Fatalf("Expected the client to close the stream, got %v", err)
	}
	h.s.Close()

	if err = h.wait(t); !errors.Is(err, xmpp.ErrAuthFailed) {
		t.Errorf("Expected ErrAuthFailed, got %v", err)
	}
	f := recv(t, failures)
	if f.Condition != "not-authorized" || f.Mechanism != "PLAIN" {
		t.Errorf("Wrong failure payload: %+v", f)
	}
	if n := h.dials.Load(); n != 1 {
		t.Errorf("Authentication failure was retried: %d dials", n)
	}
}

func TestStreamError(t *testing.T) {
	h := start(t, xmpp.Options{NoReconnect: true}, nil)
	h.login(t)
	err := h.s.Send(`<stream:error><conflict xmlns='urn:ietf:params:xml:ns:xmpp-streams'/></stream:error></stream:stream>`)
	if err != nil {
		t.Fatalf("Error sending stream error: %v", err)
	}
	if _, err = h.s.Next(); !errors.Is(err, xmpptest.ErrStreamEnd) {
		t.Fatalf("Expected the client to close the stream, got %v", err)
	}
	h.s.Conn().Close()
	if err = h.wait(t); !errors.Is(err, stream.Conflict) {
		t.Errorf("Expected conflict stream error, got %v", err)
	}
}

func TestUnsolicitedClose(t *testing.T) {
	h := start(t, xmpp.Options{}, nil)
	h.login(t)
	if err := h.s.Send(`</stream:stream>`); err != nil {
		t.Fatalf("Error closing stream: %v", err)
	}
	if _, err := h.s.Next(); !errors.Is(err, xmpptest.ErrStreamEnd) {
		t.Fatalf("Expected the client to answer the close, got %v", err)
	}
	h.s.Conn().Close()
	if err := h.wait(t); err != nil {
		t.Errorf("A clean close should not be an error, got %v", err)
	}
	if n := h.dials.Load(); n != 1 {
		t.Errorf("A clean close should not reconnect: %d dials", n)
	}
}

// pingAndExpectFallback proves that nothing else was sent before the reply to
// an unhandled IQ.
func pingAndExpectFallback(t *testing.T, s *xmpptest.Server) {
	t.Helper()
	if err := s.Send(`<iq type='get' id='sync' from='example.net'><ping xmlns='urn:xmpp:ping'/></iq>`); err != nil {
		t.Fatalf("Error sending ping: %v", err)
	}
	e, err := s.Expect("iq")
	if err != nil {
		t.Fatalf("Error reading reply: %v", err)
	}
	if e.Get("id") != "sync" {
		t.Fatalf("Expected reply to ping, got %s", e)
	}
}

var subscriptionTests = [...]struct {
	policy xmpp.SubscriptionPolicy
	auto   bool
	reply  []stanza.PresenceType
}{
	0: {policy: xmpp.Accept, reply: []stanza.PresenceType{stanza.SubscribedPresence}},
	1: {policy: xmpp.Accept, auto: true, reply: []stanza.PresenceType{stanza.SubscribedPresence, stanza.SubscribePresence}},
	2: {policy: xmpp.Reject, reply: []stanza.PresenceType{stanza.UnsubscribedPresence}},
	3: {policy: xmpp.Manual},
}

func TestSubscription(t *testing.T) {
	for i, tc := range subscriptionTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			changes := make(chan event.Subscription, 1)
			h := start(t, xmpp.Options{Subscription: tc.policy, AutoSubscribe: tc.auto}, func(c *xmpp.Client) {
				c.Events().On(event.ChangedSubscription, event.Typed(func(s event.Subscription) {
					changes <- s
				}))
			})
			h.login(t)
			if err := h.s.Send(`<presence from='` + romeo + `' type='subscribe'/>`); err != nil {
				t.Fatalf("Error sending subscription request: %v", err)
			}
			for _, typ := range tc.reply {
				p, err := h.s.Expect("presence")
				if err != nil {
					t.Fatalf("Error reading reply: %v", err)
				}
				if p.Get("type") != string(typ) || p.Get("to") != "romeo@example.net" {
					t.Errorf("Wrong reply: want type %s, got %s", typ, p)
				}
			}
			pingAndExpectFallback(t, h.s)
			ch := recv(t, changes)
			if ch.Type != stanza.SubscribePresence || ch.JID.String() != "romeo@example.net" {
				t.Errorf("Wrong changed_subscription payload: %+v", ch)
			}
			h.shutdown(t)
		})
	}
}

func TestPresenceEvents(t *testing.T) {
	type got struct {
		name event.Name
		p    event.Presence
	}
	events := make(chan got, 4)
	h := start(t, xmpp.Options{}, func(c *xmpp.Client) {
		for _, name := range []event.Name{event.GotOnline, event.GotOffline, event.ChangedStatus} {
			name := name
			c.Events().On(name, event.Typed(func(p event.Presence) {
				events <- got{name: name, p: p}
			}))
		}
	})
	h.login(t)

	steps := [...]struct {
		raw  string
		name event.Name
		show string
	}{
		{raw: `<presence from='` + romeo + `'/>`, name: event.GotOnline, show: "available"},
		{raw: `<presence from='` + romeo + `'><show>away</show></presence>`, name: event.ChangedStatus, show: "away"},
		{raw: `<presence from='` + romeo + `' type='unavailable'/>`, name: event.GotOffline, show: "unavailable"},
	}
	for _, step := range steps {
		if err := h.s.Send(step.raw); err != nil {
			t.Fatalf("Error sending presence: %v", err)
		}
		ev := recv(t, events)
		if ev.name != step.name || ev.p.Show != step.show || ev.p.Resource != "orchard" {
			t.Errorf("Wrong event: want %s/%s, got %s/%s (%+v)", step.name, step.show, ev.name, ev.p.Show, ev.p)
		}
	}
	h.shutdown(t)
}

func TestRosterPush(t *testing.T) {
	updates := make(chan event.Roster, 1)
	h := start(t, xmpp.Options{}, func(c *xmpp.Client) {
		c.Events().On(event.RosterUpdate, event.Typed(func(r event.Roster) {
			updates <- r
		}))
	})
	h.login(t)

	// Pushes from other entities are refused.
	err := h.s.Send(`<iq type='set' id='evil' from='` + romeo + `'><query xmlns='jabber:iq:roster'><item jid='mallory@example.net'/></query></iq>`)
	if err != nil {
		t.Fatalf("Error sending push: %v", err)
	}
	e, err := h.s.Expect("iq")
	if err != nil {
		t.Fatalf("Error reading reply: %v", err)
	}
	if e.Get("type") != "error" || e.Get("id") != "evil" {
		t.Errorf("Expected forged push to be refused, got %s", e)
	}

	err = h.s.Send(`<iq type='set' id='push1'><query xmlns='jabber:iq:roster'><item jid='romeo@example.net' name='Romeo' subscription='both'/></query></iq>`)
	if err != nil {
		t.Fatalf("Error sending push: %v", err)
	}
	e, err = h.s.Expect("iq")
	if err != nil {
		t.Fatalf("Error reading reply: %v", err)
	}
	if e.Get("type") != "result" || e.Get("id") != "push1" {
		t.Errorf("Expected push to be acknowledged, got %s", e)
	}
	r := recv(t, updates)
	if len(r.Items) != 1 || r.Items[0].Name != "Romeo" {
		t.Errorf("Wrong roster update: %+v", r.Items)
	}
	if name := h.c.Roster().Name(jid.MustParse(romeo)); name != "Romeo" {
		t.Errorf("Roster was not updated, got name %q", name)
	}
	if _, ok := h.c.Roster().Get(jid.MustParse("mallory@example.net")); ok {
		t.Errorf("Forged push modified the roster")
	}
	h.shutdown(t)
}

func TestSendFilter(t *testing.T) {
	h := start(t, xmpp.Options{}, nil)
	h.login(t)
	h.c.AddSendFilter(func(e *element.Element) *element.Element {
		if e.ChildText("", "body") == "drop" {
			return nil
		}
		return e
	})
	id := h.c.AddSendFilter(func(e *element.Element) *element.Element {
		return e.Set("id", "filtered")
	})

	go func() {
		h.c.SendMessage(jid.MustParse(romeo), "drop", "", stanza.ChatMessage)
		h.c.SendMessage(jid.MustParse(romeo), "keep", "", stanza.ChatMessage)
	}()
	e, err := h.s.Expect("message")
	if err != nil {
		t.Fatalf("Error reading message: %v", err)
	}
	if e.ChildText("", "body") != "keep" || e.Get("id") != "filtered" {
		t.Errorf("Filters were not applied: %s", e)
	}

	if !h.c.RemoveSendFilter(id) {
		t.Fatalf("Filter was not removed")
	}
	msg := stanza.NewMessage(jid.MustParse(romeo), "again", "", stanza.ChatMessage)
	msg.ID = "orig"
	go h.c.Send(msg.Element())
	if e, err = h.s.Expect("message"); err != nil {
		t.Fatalf("Error reading message: %v", err)
	}
	if e.Get("id") != "orig" {
		t.Errorf("Removed filter still ran: %s", e)
	}
	h.shutdown(t)
}

func TestSendNotConnected(t *testing.T) {
	c := xmpp.New(xmpp.Options{JID: jid.MustParse(full)})
	if err := c.Send(element.New(ns.Client, "presence")); !errors.Is(err, xmpp.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}
