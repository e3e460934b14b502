// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"mellium.im/keelsbot/internal/decl"
	"mellium.im/keelsbot/stream"
)

const streamHeader = `<?xml version='1.0'?><stream:stream from='example.net' id='abc' version='1.0' xml:lang='en' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`

const fullStream = streamHeader + `
<stream:features><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></stream:features>
 <message from='a@example.net/r' type='chat'><body>a &amp; &lt;b&gt; "c"</body></message>
<presence from='b@example.net'/>  <iq type='result' id='1'><query xmlns='jabber:iq:roster'><item jid='c@example.net' name="C"/></query></iq></stream:stream>`

var wantElements = []string{
	`<features xmlns='http://etherx.jabber.org/streams'><mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms></features>`,
	`<message from='a@example.net/r' type='chat'><body>a &amp; &lt;b&gt; &quot;c&quot;</body></message>`,
	`<presence from='b@example.net'/>`,
	`<iq type='result' id='1'><query xmlns='jabber:iq:roster'><item jid='c@example.net' name='C'/></query></iq>`,
}

// collect runs the parser to completion and returns the serialized elements.
func collect(t *testing.T, r io.Reader) (stream.Info, []string) {
	t.Helper()
	p := stream.NewParser(r)
	var (
		info stream.Info
		out  []string
	)
	for {
		ev, err := p.Next()
		if err != nil {
			t.Fatalf("Unexpected error after %d elements: %v", len(out), err)
		}
		switch ev.Kind {
		case stream.Start:
			info = ev.Info
		case stream.Element:
			out = append(out, ev.Element.String())
		case stream.End:
			if _, err := p.Next(); err != io.EOF {
				t.Errorf("Expected EOF after the stream was closed, got %v", err)
			}
			return info, out
		}
	}
}

func TestParserOneUnit(t *testing.T) {
	info, out := collect(t, strings.NewReader(fullStream))
	if info.ID != "abc" || info.From.String() != "example.net" || info.Lang != "en" || info.XMLNS != "jabber:client" {
		t.Errorf("Unexpected stream info %+v", info)
	}
	if info.Version != stream.DefaultVersion {
		t.Errorf("Unexpected version %v", info.Version)
	}
	if len(out) != len(wantElements) {
		t.Fatalf("Wrong number of elements: want=%d, got=%d", len(wantElements), len(out))
	}
	for i, s := range out {
		if s != wantElements[i] {
			t.Errorf("Element %d differs:\nwant=%s,\n got=%s", i, wantElements[i], s)
		}
	}
}

func TestParserEverySplit(t *testing.T) {
	for i := 0; i <= len(fullStream); i++ {
		r := io.MultiReader(strings.NewReader(fullStream[:i]), strings.NewReader(fullStream[i:]))
		_, out := collect(t, r)
		if len(out) != len(wantElements) {
			t.Fatalf("Split at %d: wrong number of elements: want=%d, got=%d", i, len(wantElements), len(out))
		}
		for j, s := range out {
			if s != wantElements[j] {
				t.Errorf("Split at %d, element %d differs:\nwant=%s,\n got=%s", i, j, wantElements[j], s)
			}
		}
	}
}

func TestParserOneByte(t *testing.T) {
	_, out := collect(t, iotest.OneByteReader(strings.NewReader(fullStream)))
	if len(out) != len(wantElements) {
		t.Errorf("Wrong number of elements: want=%d, got=%d", len(wantElements), len(out))
	}
}

var declTests = [...]string{
	0: strings.TrimPrefix(fullStream, decl.XMLHeader),
	1: `<?xml version="1.0" encoding="UTF-8"?>` + "\n\n  " + strings.TrimPrefix(fullStream, decl.XMLHeader),
	2: "\r\n" + strings.TrimPrefix(fullStream, decl.XMLHeader),
}

func TestParserDeclaration(t *testing.T) {
	for i, in := range declTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			info, out := collect(t, strings.NewReader(in))
			if info.ID != "abc" {
				t.Errorf("wrong stream info: %+v", info)
			}
			if len(out) != len(wantElements) || out[0] != wantElements[0] {
				t.Errorf("wrong elements: %v", out)
			}
		})
	}
}

var parserErrTests = [...]struct {
	in  string
	err error
}{
	0: {in: "", err: io.EOF},
	1: {in: `<message xmlns='jabber:client'/>`, err: stream.BadFormat},
	2: {in: `<stream:stream xmlns='jabber:client' xmlns:stream='urn:example:wrong'>`, err: stream.InvalidNamespace},
	3: {in: streamHeader + `<message><body>`, err: io.ErrUnexpectedEOF},
	4: {in: streamHeader, err: io.ErrUnexpectedEOF},
	5: {in: streamHeader + `<message></presence>`, err: stream.NotWellFormed},
	6: {in: streamHeader + `hello`, err: stream.BadFormat},
	7: {in: streamHeader + `<!-- comment -->`, err: stream.RestrictedXML},
	8: {in: streamHeader + `<stream:stream xmlns:stream='http://etherx.jabber.org/streams'>`, err: stream.BadFormat},
	9: {in: `<stream:stream version='x' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`, err: stream.BadFormat},
}

func TestParserErrors(t *testing.T) {
	for i, tc := range parserErrTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			p := stream.NewParser(strings.NewReader(tc.in))
			var err error
			for err == nil {
				_, err = p.Next()
			}
			if !errors.Is(err, tc.err) {
				t.Errorf("Unexpected error: want=%v, got=%v", tc.err, err)
			}
		})
	}
}

func TestStreamError(t *testing.T) {
	const in = streamHeader + `<stream:error><conflict xmlns='urn:ietf:params:xml:ns:xmpp-streams'/><text xmlns='urn:ietf:params:xml:ns:xmpp-streams'>Replaced by new connection</text></stream:error></stream:stream>`
	p := stream.NewParser(strings.NewReader(in))
	if ev, err := p.Next(); err != nil || ev.Kind != stream.Start {
		t.Fatalf("Expected stream start, got %v, %v", ev.Kind, err)
	}
	ev, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !stream.IsError(ev.Element) {
		t.Fatalf("Expected a stream error, got %s", ev.Element)
	}
	se := stream.DecodeError(ev.Element)
	if !errors.Is(se, stream.Conflict) || se.Text != "Replaced by new connection" {
		t.Errorf("Unexpected stream error %+v", se)
	}
	if ev, err = p.Next(); err != nil || ev.Kind != stream.End {
		t.Errorf("Expected stream end, got %v, %v", ev.Kind, err)
	}
}
