// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream implements the framing of an XMPP stream: the opening and
// closing stream headers, stream level errors as defined by RFC 6120 §4.9 and
// an incremental parser that splits a never ending XML document into its top
// level elements.
package stream // import "mellium.im/keelsbot/stream"

// Namespaces used by XMPP streams and stream errors, provided as a convenience.
const (
	NS      = "http://etherx.jabber.org/streams"
	ErrorNS = "urn:ietf:params:xml:ns:xmpp-streams"
)
