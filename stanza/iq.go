// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
)

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// IQ ("Information Query") is used as a general request response mechanism.
// Get and set requests must be answered by exactly one result or error with
// the same id.
type IQ struct {
	Header
	Type    IQType
	Payload *element.Element
	Err     *Error
}

// NewIQ builds an IQ with the given type, recipient, id and payload.
func NewIQ(typ IQType, to jid.JID, id string, payload *element.Element) IQ {
	return IQ{
		Header:  Header{ID: id, To: to},
		Type:    typ,
		Payload: payload,
	}
}

// IsRequest reports whether the IQ is a get or set that needs an answer.
func (iq IQ) IsRequest() bool {
	return iq.Type == GetIQ || iq.Type == SetIQ
}

// Result returns a result IQ that answers iq, optionally carrying a payload.
func (iq IQ) Result(payload *element.Element) IQ {
	return IQ{
		Header: Header{
			ID:   iq.ID,
			To:   iq.From,
			From: iq.To,
			Lang: iq.Lang,
		},
		Type:    ResultIQ,
		Payload: payload,
	}
}

// Error returns an error IQ that answers iq.
// The original payload is echoed as RFC 6120 suggests.
func (iq IQ) Error(se Error) IQ {
	return IQ{
		Header: Header{
			ID:   iq.ID,
			To:   iq.From,
			From: iq.To,
			Lang: iq.Lang,
		},
		Type:    ErrorIQ,
		Payload: iq.Payload,
		Err:     &se,
	}
}

// Element encodes the IQ.
func (iq IQ) Element() *element.Element {
	e := iq.Header.apply(element.New(ns.Client, "iq"))
	e.Set("type", string(iq.Type))
	if iq.Payload != nil {
		e.Append(iq.Payload)
	}
	if iq.Err != nil {
		e.Append(iq.Err.Element())
	}
	return e
}

// DecodeIQ converts an element into an IQ.
// The first child other than an error is the payload.
func DecodeIQ(e *element.Element) (IQ, error) {
	if e == nil || !inClient(e, "iq") {
		return IQ{}, ErrNotStanza
	}
	h, err := decodeHeader(e)
	if err != nil {
		return IQ{}, err
	}
	iq := IQ{
		Header: h,
		Type:   IQType(e.Get("type")),
	}
	for _, c := range e.Elements() {
		if inClient(c, "error") {
			se := DecodeError(c)
			iq.Err = &se
			continue
		}
		if iq.Payload == nil {
			iq.Payload = c
		}
	}
	return iq, nil
}
