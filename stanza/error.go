// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
)

// ErrorType is the type of an stanza error payloads.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait is indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3.
// The comment on each names the error type it is normally paired with.
const (
	BadRequest            Condition = "bad-request"             // modify
	Conflict              Condition = "conflict"                // cancel
	FeatureNotImplemented Condition = "feature-not-implemented" // cancel
	Forbidden             Condition = "forbidden"               // auth
	Gone                  Condition = "gone"                    // cancel
	InternalServerError   Condition = "internal-server-error"   // cancel
	ItemNotFound          Condition = "item-not-found"          // cancel
	JIDMalformed          Condition = "jid-malformed"           // modify
	NotAcceptable         Condition = "not-acceptable"          // modify
	NotAllowed            Condition = "not-allowed"             // cancel
	NotAuthorized         Condition = "not-authorized"          // auth
	PolicyViolation       Condition = "policy-violation"        // modify
	RecipientUnavailable  Condition = "recipient-unavailable"   // wait
	Redirect              Condition = "redirect"                // modify
	RegistrationRequired  Condition = "registration-required"   // auth
	RemoteServerNotFound  Condition = "remote-server-not-found" // cancel
	RemoteServerTimeout   Condition = "remote-server-timeout"   // wait
	ResourceConstraint    Condition = "resource-constraint"     // wait
	ServiceUnavailable    Condition = "service-unavailable"     // cancel
	SubscriptionRequired  Condition = "subscription-required"   // auth
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request" // wait
)

// Error is a stanza level error that can be carried inside a message,
// presence, or iq of type error.
type Error struct {
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Text      string
	Lang      string
}

// Error satisfies the error interface by returning the condition and, if
// present, the human readable text.
func (se Error) Error() string {
	if se.Text != "" {
		return string(se.Condition) + ": " + se.Text
	}
	return string(se.Condition)
}

// Element encodes the error payload.
func (se Error) Element() *element.Element {
	e := element.New(ns.Client, "error").Set("type", string(se.Type))
	if !se.By.IsZero() {
		e.Set("by", se.By.String())
	}
	cond := se.Condition
	if cond == "" {
		cond = UndefinedCondition
	}
	e.Append(element.New(ns.Stanza, string(cond)))
	if se.Text != "" {
		text := element.New(ns.Stanza, "text").SetText(se.Text)
		if se.Lang != "" {
			text.Attr = append(text.Attr, langAttr(se.Lang))
		}
		e.Append(text)
	}
	return e
}

// DecodeError reads an <error/> payload.
// Unknown children are ignored; the first child in the stanza error namespace
// other than text is the condition.
func DecodeError(e *element.Element) Error {
	se := Error{Type: ErrorType(e.Get("type"))}
	if by := e.Get("by"); by != "" {
		se.By, _ = jid.Parse(by)
	}
	for _, c := range e.Elements() {
		if c.Name.Space != ns.Stanza {
			continue
		}
		if c.Name.Local == "text" {
			se.Text = c.Text()
			for _, a := range c.Attr {
				if a.Name.Space == ns.XML && a.Name.Local == "lang" {
					se.Lang = a.Value
				}
			}
			continue
		}
		if se.Condition == "" {
			se.Condition = Condition(c.Name.Local)
		}
	}
	return se
}
