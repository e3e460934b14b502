// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mask_test

import (
	"encoding/xml"
	"strconv"
	"testing"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/mask"
)

const chatMessage = `<message xmlns='jabber:client' type='chat' from='a'><body>hi</body></message>`

var matchTests = [...]struct {
	mask string
	in   string
	out  bool
}{
	0: {mask: `<message type='chat'><body/></message>`, in: chatMessage, out: true},
	1: {
		mask: `<message type='chat'><body/></message>`,
		in:   `<message xmlns='jabber:client' type='groupchat' from='a'><body>hi</body></message>`,
	},
	2: {mask: `<message type='chat' to='b'><body/></message>`, in: chatMessage},
	3: {mask: `<message><subject/></message>`, in: chatMessage},
	4: {mask: `<message xmlns='jabber:client'/>`, in: chatMessage, out: true},
	5: {mask: `<message xmlns='jabber:server'/>`, in: chatMessage},
	6: {mask: `<message><body>hi</body></message>`, in: chatMessage, out: true},
	7: {mask: `<message><body>bye</body></message>`, in: chatMessage},
	8: {mask: `<message id='#absent'/>`, in: chatMessage, out: true},
	9: {mask: `<message from='#absent'/>`, in: chatMessage},
	10: {
		mask: `<iq type='get'><query xmlns='jabber:iq:version'/></iq>`,
		in:   `<iq xmlns='jabber:client' type='get' id='1'><query xmlns='jabber:iq:version'/></iq>`,
		out:  true,
	},
	11: {
		mask: `<iq type='get'><query xmlns='jabber:iq:version'/></iq>`,
		in:   `<iq xmlns='jabber:client' type='get' id='1'><query xmlns='jabber:iq:roster'/></iq>`,
	},
	12: {
		// Child masks are existential: any one matching child is enough.
		mask: `<presence><x xmlns='http://jabber.org/protocol/muc#user'><item role='moderator'/></x></presence>`,
		in: `<presence xmlns='jabber:client'>
<x xmlns='http://jabber.org/protocol/muc#user'><item role='participant'/></x>
<x xmlns='http://jabber.org/protocol/muc#user'><item role='moderator'/></x>
</presence>`,
		out: true,
	},
	13: {mask: `<presence/>`, in: chatMessage},
}

func TestMatch(t *testing.T) {
	for i, tc := range matchTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			m, err := mask.Parse(tc.mask)
			if err != nil {
				t.Fatalf("Error parsing mask: %v", err)
			}
			e, err := element.Parse(tc.in)
			if err != nil {
				t.Fatalf("Error parsing element: %v", err)
			}
			if out := m.Match(e); out != tc.out {
				t.Errorf("Wrong match result for %s: want=%t, got=%t", m, tc.out, out)
			}
		})
	}
}

func TestMatchNil(t *testing.T) {
	if mask.New("", "message").Match(nil) {
		t.Errorf("Nil element should never match")
	}
}

func TestBuilder(t *testing.T) {
	m := mask.New(ns.Client, "message").With("type", "chat").Without("id").Child(mask.New("", "body"))
	e := element.MustParse(chatMessage)
	if !m.Match(e) {
		t.Errorf("Expected built mask %s to match", m)
	}
	e.Set("id", "1")
	if m.Match(e) {
		t.Errorf("Expected mask %s not to match an element with an id", m)
	}
}

var predicateTests = [...]struct {
	m   mask.Matcher
	in  string
	out bool
}{
	0: {m: mask.Message(), in: chatMessage, out: true},
	1: {m: mask.Message("chat", "normal"), in: chatMessage, out: true},
	2: {m: mask.Message("groupchat"), in: chatMessage},
	3: {m: mask.Message("normal"), in: `<message xmlns='jabber:client'/>`, out: true},
	4: {m: mask.Presence(""), in: `<presence xmlns='jabber:client'/>`, out: true},
	5: {m: mask.Presence("unavailable"), in: `<presence xmlns='jabber:client'/>`},
	6: {
		m:   mask.IQ("get", xml.Name{Space: ns.Ping, Local: "ping"}),
		in:  `<iq xmlns='jabber:client' type='get' id='a'><ping xmlns='urn:xmpp:ping'/></iq>`,
		out: true,
	},
	7: {
		m:  mask.IQ("set", xml.Name{Space: ns.Ping, Local: "ping"}),
		in: `<iq xmlns='jabber:client' type='get' id='a'><ping xmlns='urn:xmpp:ping'/></iq>`,
	},
	8: {m: mask.Reply("a"), in: `<iq xmlns='jabber:client' type='result' id='a'/>`, out: true},
	9: {m: mask.Reply("a"), in: `<iq xmlns='jabber:client' type='error' id='a'/>`, out: true},
	10: {m: mask.Reply("a"), in: `<iq xmlns='jabber:client' type='get' id='a'/>`},
	11: {m: mask.Reply("a"), in: `<iq xmlns='jabber:client' type='result' id='b'/>`},
	12: {m: mask.All(mask.Message(), mask.New("", "message").With("from", "a")), in: chatMessage, out: true},
	13: {m: mask.Any(mask.Presence(), mask.Name(ns.Client, "iq")), in: chatMessage},
	14: {m: mask.Name(ns.SASL, "success"), in: `<success xmlns='urn:ietf:params:xml:ns:xmpp-sasl'/>`, out: true},
}

func TestPredicates(t *testing.T) {
	for i, tc := range predicateTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			e := element.MustParse(tc.in)
			if out := tc.m.Match(e); out != tc.out {
				t.Errorf("Wrong match result: want=%t, got=%t", tc.out, out)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	if _, err := mask.Parse(`<message`); err == nil {
		t.Errorf("Expected error parsing truncated mask")
	}
}
