// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/decl"
)

// EventKind identifies what the parser found.
type EventKind uint8

// The kinds of event returned by Parser.Next.
const (
	// Start is returned once when the opening stream header is read.
	Start EventKind = iota + 1

	// Element is returned for every complete element that is a direct child of
	// the stream root.
	Element

	// End is returned when the stream is closed by the peer.
	End
)

func (k EventKind) String() string {
	switch k {
	case Start:
		return "start"
	case Element:
		return "element"
	case End:
		return "end"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is a single step of the stream.
// Info is only set for Start events and Element only for Element events.
type Event struct {
	Kind    EventKind
	Info    Info
	Element *element.Element
}

// Parser reads a stream incrementally.
// The underlying document is never fully buffered: each top level element is
// decoded as it closes, handed to the caller and forgotten.
//
// A Parser is good for a single stream. After a stream restart a new parser
// must be created.
type Parser struct {
	d     *xml.Decoder
	r     xml.TokenReader
	depth int
}

// NewParser returns a parser that reads from r.
// If r implements io.ByteReader no additional buffering is done, which allows
// a buffered transport to be reused by the parser of a restarted stream.
func NewParser(r io.Reader) *Parser {
	d := xml.NewDecoder(r)
	return &Parser{
		d: d,
		r: decl.Skip(d),
	}
}

// Depth returns the current nesting depth: 0 before the stream header and
// after the stream is closed, 1 while the stream is open.
func (p *Parser) Depth() int {
	return p.depth
}

// Next blocks until the next event is available.
// It returns io.EOF if the input ends cleanly before a stream was opened and
// io.ErrUnexpectedEOF if it ends while a stream is open.
// Malformed XML results in a stream error (usually NotWellFormed) wrapping the
// underlying syntax error.
func (p *Parser) Next() (Event, error) {
	for {
		tok, err := p.r.Token()
		if err != nil {
			return Event{}, p.readErr(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if p.depth == 0 {
				info, err := FromStartElement(t)
				if err != nil {
					return Event{}, err
				}
				p.depth = 1
				return Event{Kind: Start, Info: info}, nil
			}
			if t.Name.Space == NS && t.Name.Local == "stream" {
				return Event{}, fmt.Errorf("%w: unexpected stream restart", BadFormat)
			}
			e, err := element.Decode(p.r, t)
			if err != nil {
				return Event{}, p.readErr(err)
			}
			return Event{Kind: Element, Element: e}, nil
		case xml.EndElement:
			if p.depth != 1 || t.Name.Space != NS || t.Name.Local != "stream" {
				return Event{}, NotWellFormed
			}
			p.depth = 0
			return Event{Kind: End}, nil
		case xml.CharData:
			// Whitespace keepalives between stanzas.
			if !isSpace(t) {
				return Event{}, fmt.Errorf("%w: text at the stream level", BadFormat)
			}
		case xml.ProcInst, xml.Comment, xml.Directive:
			return Event{}, RestrictedXML
		}
	}
}

func (p *Parser) readErr(err error) error {
	var syntax *xml.SyntaxError
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, element.ErrUnexpectedEOF):
		if p.depth == 0 {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	case errors.As(err, &syntax):
		if syntax.Msg == "unexpected EOF" {
			return io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: %v", NotWellFormed, err)
	}
	return err
}

func isSpace(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}
