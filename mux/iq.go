// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/stanza"
)

// IQFallback returns the reply owed for an IQ that no handler accepted.
// Every get or set must be answered, so requests nobody handled are answered
// with a service-unavailable error.
// For anything else, including IQs that fail to decode, it returns nil.
func IQFallback(e *element.Element) *element.Element {
	iq, err := stanza.DecodeIQ(e)
	if err != nil || !iq.IsRequest() {
		return nil
	}
	return iq.Error(stanza.Error{
		Type:      stanza.Cancel,
		Condition: stanza.ServiceUnavailable,
	}).Element()
}
