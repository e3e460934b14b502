// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"mellium.im/keelsbot/element"
)

// A list of stream errors defined in RFC 6120 §4.9.3
var (
	BadFormat              = Error{Err: "bad-format"}
	BadNamespacePrefix     = Error{Err: "bad-namespace-prefix"}
	Conflict               = Error{Err: "conflict"}
	ConnectionTimeout      = Error{Err: "connection-timeout"}
	HostGone               = Error{Err: "host-gone"}
	HostUnknown            = Error{Err: "host-unknown"}
	ImproperAddressing     = Error{Err: "improper-addressing"}
	InternalServerError    = Error{Err: "internal-server-error"}
	InvalidFrom            = Error{Err: "invalid-from"}
	InvalidNamespace       = Error{Err: "invalid-namespace"}
	InvalidXML             = Error{Err: "invalid-xml"}
	NotAuthorized          = Error{Err: "not-authorized"}
	NotWellFormed          = Error{Err: "not-well-formed"}
	PolicyViolation        = Error{Err: "policy-violation"}
	RemoteConnectionFailed = Error{Err: "remote-connection-failed"}
	Reset                  = Error{Err: "reset"}
	ResourceConstraint     = Error{Err: "resource-constraint"}
	RestrictedXML          = Error{Err: "restricted-xml"}
	SeeOtherHost           = Error{Err: "see-other-host"}
	SystemShutdown         = Error{Err: "system-shutdown"}
	UndefinedCondition     = Error{Err: "undefined-condition"}
	UnsupportedEncoding    = Error{Err: "unsupported-encoding"}
	UnsupportedFeature     = Error{Err: "unsupported-feature"}
	UnsupportedStanzaType  = Error{Err: "unsupported-stanza-type"}
	UnsupportedVersion     = Error{Err: "unsupported-version"}
)

// A Error represents an unrecoverable stream-level error.
// Text is the optional human readable description and, for see-other-host,
// the character data of the condition holds the new address.
type Error struct {
	Err  string
	Text string
}

// Error satisfies the builtin error interface and returns the name of the
// condition. For instance, given the error:
//
//	<stream:error>
//	  <restricted-xml xmlns="urn:ietf:params:xml:ns:xmpp-streams"/>
//	</stream:error>
//
// Error() would return "restricted-xml".
func (s Error) Error() string {
	return s.Err
}

// Is reports whether target is a stream error with the same condition, so
// that errors.Is(err, stream.Conflict) works regardless of the text.
func (s Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Err == s.Err
}

// Element encodes the error as a <stream:error/> element.
func (s Error) Element() *element.Element {
	e := element.New(NS, "error").Append(element.New(ErrorNS, s.Err))
	if s.Text != "" {
		e.Append(element.New(ErrorNS, "text").SetText(s.Text))
	}
	return e
}

// IsError reports whether e is a <stream:error/> element.
func IsError(e *element.Element) bool {
	return e.Is(NS, "error")
}

// DecodeError reads the condition and text out of a <stream:error/> element.
// Elements in other namespaces (application specific conditions) are ignored.
func DecodeError(e *element.Element) Error {
	var s Error
	for _, c := range e.Elements() {
		if c.Name.Space != ErrorNS {
			continue
		}
		if c.Name.Local == "text" {
			s.Text = c.Text()
			continue
		}
		if s.Err == "" {
			s.Err = c.Name.Local
			if s.Text == "" {
				s.Text = c.Text()
			}
		}
	}
	if s.Err == "" {
		s.Err = UndefinedCondition.Err
	}
	return s
}
