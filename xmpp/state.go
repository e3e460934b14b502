// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"fmt"
)

// SessionState is a bitmask that represents the current state of an XMPP
// session. For a description of each bit, see the various SessionState typed
// constants.
type SessionState uint8

const (
	// Secure indicates that the underlying connection has been secured with
	// StartTLS.
	Secure SessionState = 1 << iota

	// Authn indicates that the session has been authenticated with SASL.
	Authn

	// Bound indicates that a resource has been bound.
	Bound

	// Ready indicates that the session is fully negotiated and that XMPP stanzas
	// may be sent and received.
	Ready

	// OutputStreamClosed indicates that the output stream has been closed with a
	// stream end tag. When set all write operations will return an error even if
	// the underlying TCP connection is still open.
	OutputStreamClosed

	// InputStreamClosed indicates that the input stream has been closed with a
	// stream end tag.
	InputStreamClosed
)

// Outcome is the result of processing a single stream.
type Outcome uint8

// Outcomes of the process loop.
const (
	// Clean means the stream was closed by either side without error.
	Clean Outcome = iota

	// Lost means the connection failed or the server ended the stream with a
	// stream error.
	Lost

	// Restart means the stream must be restarted on the same transport after a
	// successful StartTLS or SASL negotiation.
	Restart
)

func (o Outcome) String() string {
	switch o {
	case Clean:
		return "clean"
	case Lost:
		return "lost"
	case Restart:
		return "restart"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}
