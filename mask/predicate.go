// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mask

import (
	"encoding/xml"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
)

// The functions in this file build matchers from the small vocabulary of
// discriminators used to route stanzas: the root tag, the type attribute and
// the presence of specific payload elements.

func typeIn(e *element.Element, types []string) bool {
	if len(types) == 0 {
		return true
	}
	t := e.Get("type")
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// Message matches message stanzas of any of the given types.
// With no types every message matches. A message with no type attribute has
// the type "normal".
func Message(types ...string) Matcher {
	return Func(func(e *element.Element) bool {
		if !e.Is(ns.Client, "message") {
			return false
		}
		if len(types) == 0 {
			return true
		}
		t := e.Get("type")
		if t == "" {
			t = "normal"
		}
		for _, want := range types {
			if t == want {
				return true
			}
		}
		return false
	})
}

// Presence matches presence stanzas of any of the given types.
// The empty string matches available presence.
func Presence(types ...string) Matcher {
	return Func(func(e *element.Element) bool {
		return e.Is(ns.Client, "presence") && typeIn(e, types)
	})
}

// IQ matches iq stanzas of the given type whose payload has the given name.
// An empty type matches any type and an empty payload name matches any
// payload (or none).
func IQ(typ string, payload xml.Name) Matcher {
	return Func(func(e *element.Element) bool {
		if !e.Is(ns.Client, "iq") {
			return false
		}
		if typ != "" && e.Get("type") != typ {
			return false
		}
		if payload.Local == "" {
			return true
		}
		return e.Find(payload.Space, payload.Local) != nil
	})
}

// Reply matches the result or error iq answering the request with the given
// id.
func Reply(id string) Matcher {
	return Func(func(e *element.Element) bool {
		if !e.Is(ns.Client, "iq") || e.Get("id") != id {
			return false
		}
		t := e.Get("type")
		return t == "result" || t == "error"
	})
}

// Name matches any element with the given namespace and local name.
func Name(space, local string) Matcher {
	return New(space, local)
}

// All matches if every matcher matches.
func All(m ...Matcher) Matcher {
	return Func(func(e *element.Element) bool {
		for _, mm := range m {
			if !mm.Match(e) {
				return false
			}
		}
		return true
	})
}

// Any matches if at least one matcher matches.
func Any(m ...Matcher) Matcher {
	return Func(func(e *element.Element) bool {
		for _, mm := range m {
			if mm.Match(e) {
				return true
			}
		}
		return false
	})
}
