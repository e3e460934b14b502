// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/stream"
)

// ErrOutputStreamClosed is returned when writing after the closing stream tag
// has been sent.
var ErrOutputStreamClosed = errors.New("xmpp: attempted to write to a closed stream")

// transport is one TCP connection and the buffered reader the stream parsers
// read from.
// The reader outlives individual parsers so that a restarted stream picks up
// exactly where the previous one stopped.
type transport struct {
	r       *bufio.Reader
	recv    io.Writer
	sent    io.Writer
	timeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	secure    bool
	closeSent bool
	failsafe  *time.Timer
}

func newTransport(conn net.Conn, recv, sent io.Writer, timeout time.Duration) *transport {
	return &transport{
		conn:    conn,
		r:       bufio.NewReader(io.TeeReader(conn, recv)),
		recv:    recv,
		sent:    sent,
		timeout: timeout,
	}
}

// reader returns the input for a stream parser.
// It implements io.ByteReader so the XML decoder does not add its own
// buffering.
func (t *transport) reader() io.Reader {
	return t.r
}

func (t *transport) writeLocked(p []byte) error {
	if t.closeSent {
		return ErrOutputStreamClosed
	}
	if _, err := t.conn.Write(p); err != nil {
		return err
	}
	_, err := t.sent.Write(p)
	return err
}

func (t *transport) write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(p)
}

// writeElement serializes e as a top level element of a jabber:client stream.
func (t *transport) writeElement(e *element.Element) error {
	var b bytes.Buffer
	if err := element.Write(&b, e, ns.Client); err != nil {
		return err
	}
	return t.write(b.Bytes())
}

func (t *transport) sendHeader(h stream.Header) error {
	var b bytes.Buffer
	if err := stream.Send(&b, h); err != nil {
		return err
	}
	return t.write(b.Bytes())
}

// startTLS performs a client handshake over the current connection and
// switches the reader onto the encrypted channel.
// The caller is the parser goroutine so nothing reads concurrently.
func (t *transport) startTLS(ctx context.Context, cfg *tls.Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.r.Buffered() != 0 {
		return errors.New("xmpp: unencrypted data received after StartTLS proceed")
	}
	tc := tls.Client(t.conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return err
	}
	t.conn = tc
	t.secure = true
	t.r.Reset(io.TeeReader(tc, t.recv))
	return nil
}

func (t *transport) tlsState() (tls.ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tc, ok := t.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// close ends the output stream and half closes the connection if possible.
// If the peer has not closed the connection within the timeout it is closed
// forcefully.
func (t *transport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeSent {
		return
	}
	// Don't hang on a peer that has stopped reading.
	t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	if err := t.writeLocked([]byte(`</stream:stream>`)); err != nil {
		t.closeSent = true
		t.conn.Close()
		return
	}
	t.closeSent = true
	if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	conn := t.conn
	t.failsafe = time.AfterFunc(t.timeout, func() {
		conn.Close()
	})
}

// closing reports whether the output stream has been closed.
func (t *transport) closing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeSent
}

// abort closes the connection immediately.
func (t *transport) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failsafe != nil {
		t.failsafe.Stop()
	}
	t.conn.Close()
}
