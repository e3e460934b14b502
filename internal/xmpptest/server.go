// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides utilities for XMPP testing.
package xmpptest // import "mellium.im/keelsbot/internal/xmpptest"

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/stream"
)

// ErrStreamEnd is returned by Server.Next when the client closes the stream.
var ErrStreamEnd = errors.New("xmpptest: stream closed by the client")

// Server is the server side of a scripted client connection.
// Tests drive it step by step: read the client's header, send features, read
// the next element and reply.
//
// Connections created with net.Pipe are synchronous: a write blocks until the
// other side reads it. A script must read whatever the client sends in answer
// to an element before it writes the next one.
type Server struct {
	conn net.Conn
	r    *bufio.Reader
	p    *stream.Parser
}

// NewServer returns a server that reads from and writes to conn.
func NewServer(conn net.Conn) *Server {
	s := &Server{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
	s.Restart()
	return s
}

// Pipe returns the client end of an in memory connection and a server for the
// other end.
func Pipe() (net.Conn, *Server) {
	client, server := net.Pipe()
	return client, NewServer(server)
}

// Conn returns the underlying connection.
func (s *Server) Conn() net.Conn {
	return s.conn
}

// Restart discards the parser so that the next read expects a new stream
// header.
func (s *Server) Restart() {
	s.p = stream.NewParser(s.r)
}

// ReadHeader reads the client's stream header.
func (s *Server) ReadHeader() (stream.Info, error) {
	ev, err := s.p.Next()
	if err != nil {
		return stream.Info{}, err
	}
	if ev.Kind != stream.Start {
		return stream.Info{}, fmt.Errorf("xmpptest: expected stream header, got %s", ev.Kind)
	}
	return ev.Info, nil
}

// SendHeader sends a stream header from the server.
func (s *Server) SendHeader(id string) error {
	return s.Send(`<?xml version='1.0'?><stream:stream from='example.net' id='` + id +
		`' version='1.0' xml:lang='en' xmlns='` + ns.Client + `' xmlns:stream='` + stream.NS + `'>`)
}

// Open reads the client's stream header, answers it and sends a features
// list made of the given raw XML.
func (s *Server) Open(features string) (stream.Info, error) {
	info, err := s.ReadHeader()
	if err != nil {
		return info, err
	}
	if err = s.SendHeader("123"); err != nil {
		return info, err
	}
	return info, s.Send(`<stream:features>` + features + `</stream:features>`)
}

// Send writes raw XML to the client.
func (s *Server) Send(raw string) error {
	_, err := io.WriteString(s.conn, raw)
	return err
}

// Next returns the next element sent by the client.
func (s *Server) Next() (*element.Element, error) {
	ev, err := s.p.Next()
	if err != nil {
		return nil, err
	}
	switch ev.Kind {
	case stream.End:
		return nil, ErrStreamEnd
	case stream.Element:
		return ev.Element, nil
	}
	return nil, fmt.Errorf("xmpptest: unexpected %s", ev.Kind)
}

// Expect reads the next element and checks its local name.
func (s *Server) Expect(local string) (*element.Element, error) {
	e, err := s.Next()
	if err != nil {
		return nil, err
	}
	if e.Name.Local != local {
		return e, fmt.Errorf("xmpptest: expected %s, got %s", local, e)
	}
	return e, nil
}

// StartTLS sends <proceed/> and performs the server side of a TLS handshake.
// The stream must be restarted afterwards.
func (s *Server) StartTLS(cfg *tls.Config) error {
	if err := s.Send(`<proceed xmlns='` + ns.StartTLS + `'/>`); err != nil {
		return err
	}
	tc := tls.Server(s.conn, cfg)
	if err := tc.Handshake(); err != nil {
		return err
	}
	s.conn = tc
	s.r.Reset(tc)
	s.Restart()
	return nil
}

// Authenticate answers the PLAIN authentication the client is expected to
// attempt after features offering it.
func (s *Server) Authenticate() error {
	auth, err := s.Expect("auth")
	if err != nil {
		return err
	}
	if m := auth.Get("mechanism"); m != "PLAIN" {
		return fmt.Errorf("xmpptest: unexpected mechanism %q", m)
	}
	if err = s.Send(`<success xmlns='` + ns.SASL + `'/>`); err != nil {
		return err
	}
	s.Restart()
	return nil
}

// Bind answers the client's bind request with full.
func (s *Server) Bind(full string) error {
	iq, err := s.Expect("iq")
	if err != nil {
		return err
	}
	if iq.Find(ns.Bind, "bind") == nil {
		return fmt.Errorf("xmpptest: expected bind request, got %s", iq)
	}
	return s.Send(`<iq type='result' id='` + iq.Get("id") + `'><bind xmlns='` + ns.Bind + `'><jid>` + full + `</jid></bind></iq>`)
}

// Mechanisms is a features list offering PLAIN authentication.
const Mechanisms = `<mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms>`

// BindFeature is a features list offering resource binding.
const BindFeature = `<bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'/>`

// Login plays a complete negotiation without TLS: PLAIN authentication
// followed by binding the resource of full.
func (s *Server) Login(full string) error {
	if _, err := s.Open(Mechanisms); err != nil {
		return err
	}
	if err := s.Authenticate(); err != nil {
		return err
	}
	if _, err := s.Open(BindFeature); err != nil {
		return err
	}
	return s.Bind(full)
}

// Close closes the server's stream and the connection.
func (s *Server) Close() error {
	err := s.Send(`</stream:stream>`)
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
