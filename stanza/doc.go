// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains typed views of XMPP stanzas and stanza level errors.
//
// Stanzas (Message, Presence, and IQ) are the "primitives" of XMPP. Messages
// are used to send data that is fire-and-forget such as chat messages, Presence
// is used to broadcast availability on the network, and IQ (Info-Query) is
// used as a request response mechanism.
//
// On the wire and in the handler registry every stanza is an
// *element.Element. The types in this package are values decoded from (and
// encoded to) those elements so that handlers can switch on a Kind instead of
// poking at attributes.
package stanza // import "mellium.im/keelsbot/stanza"
