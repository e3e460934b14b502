// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the engine and the
// protocol plugins.
package ns // import "mellium.im/keelsbot/internal/ns"

// List of commonly used namespaces.
const (
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"
	Client   = "jabber:client"
	SASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	Session  = "urn:ietf:params:xml:ns:xmpp-session"
	StartTLS = "urn:ietf:params:xml:ns:xmpp-tls"
	Stanza   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	Stream   = "http://etherx.jabber.org/streams"
	Streams  = "urn:ietf:params:xml:ns:xmpp-streams"
	XML      = "http://www.w3.org/XML/1998/namespace"
	XMLNS    = "xmlns"

	Roster     = "jabber:iq:roster"
	Version    = "jabber:iq:version"
	Ping       = "urn:xmpp:ping"
	DiscoInfo  = "http://jabber.org/protocol/disco#info"
	DiscoItems = "http://jabber.org/protocol/disco#items"
	MUC        = "http://jabber.org/protocol/muc"
	MUCUser    = "http://jabber.org/protocol/muc#user"
	Form       = "jabber:x:data"
	Commands   = "http://jabber.org/protocol/commands"
	Time       = "urn:xmpp:time"
)
