// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpp is the client stream engine of the bot.
//
// A Client owns one connection at a time. Run dials the server, negotiates
// the stream (StartTLS, SASL, resource binding and session establishment),
// parses incoming stanzas and dispatches them to the handlers registered on
// its mux. When the connection is lost the client waits ReconnectDelay and
// dials again until Die is called, auto reconnect is disabled or the context
// passed to Run is canceled.
//
// Negotiation is driven by the same parse loop as normal traffic: every step
// sends its request and registers a one shot handler for the reply, so the
// loop never blocks waiting for the server.
// Handlers registered on the mux run on that loop too unless they are
// registered with mux.Concurrent; a handler that calls SendWait or SendIQ must
// be concurrent or it will wait for a reply that can never be read.
//
// The client also keeps a roster cache and turns incoming traffic into the
// events documented in package event.
package xmpp // import "mellium.im/keelsbot/xmpp"
