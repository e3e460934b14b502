// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"crypto/tls"
	"io"
	"log"
	"net"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/text/language"
	"mellium.im/sasl"

	"mellium.im/keelsbot/internal/discover"
	"mellium.im/keelsbot/internal/pool"
	"mellium.im/keelsbot/jid"
)

// Default values used for the zero value of the corresponding Options fields.
const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultResponseTimeout   = 60 * time.Second
)

// SubscriptionPolicy decides how incoming subscription requests are answered.
type SubscriptionPolicy uint8

// Subscription policies.
const (
	// Accept approves every subscription request.
	Accept SubscriptionPolicy = iota

	// Reject denies every subscription request.
	Reject

	// Manual leaves requests unanswered; subscribe to the
	// changed_subscription event to answer them.
	Manual
)

// Options configure a Client.
// The zero value of every field selects a reasonable default.
type Options struct {
	// JID is the address to log in as. If it has a resourcepart it is the
	// resource requested during binding unless Resource is set.
	JID      jid.JID
	Password string
	Resource string

	// Address is a host:port pair to connect to. When empty the address is
	// looked up from the SRV records of the JID's domain.
	Address  string
	Resolver discover.Resolver

	// Proxy is the host:port of a SOCKS5 proxy to connect through.
	Proxy     string
	ProxyAuth *proxy.Auth

	// Dial overrides the function used to open connections.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// NoTLS disables StartTLS. SASL is then attempted on the plain connection.
	NoTLS     bool
	TLSConfig *tls.Config

	// Mechanisms are the SASL mechanisms in order of preference.
	// The default is SCRAM-SHA-256, SCRAM-SHA-1 and PLAIN.
	Mechanisms []sasl.Mechanism

	// Features are negotiated in addition to StartTLS, SASL, resource binding
	// and session establishment.
	Features []StreamFeature

	Lang language.Tag

	// NoReconnect disables automatic reconnection when the connection is lost.
	NoReconnect       bool
	ReconnectDelay    time.Duration
	DisconnectTimeout time.Duration
	ResponseTimeout   time.Duration

	Subscription  SubscriptionPolicy
	AutoSubscribe bool

	// Pool runs concurrent handlers. One of pool.DefaultSize is created if nil.
	Pool *pool.Pool

	// Logger receives informational messages, Debug receives protocol level
	// detail and Recv and Sent receive every byte read from and written to the
	// connection. Nil loggers discard their output.
	Logger *log.Logger
	Debug  *log.Logger
	Recv   *log.Logger
	Sent   *log.Logger
}

func discard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if len(o.Mechanisms) == 0 {
		o.Mechanisms = []sasl.Mechanism{sasl.ScramSha256, sasl.ScramSha1, sasl.Plain}
	}
	if o.Resource == "" {
		o.Resource = o.JID.Resourcepart()
	}
	if o.Pool == nil {
		o.Pool = pool.New(pool.DefaultSize)
	}
	o.Logger = discard(o.Logger)
	o.Debug = discard(o.Debug)
	o.Recv = discard(o.Recv)
	o.Sent = discard(o.Sent)
	return o
}
