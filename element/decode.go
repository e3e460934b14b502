// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package element

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"mellium.im/keelsbot/internal/attr"
)

// ErrUnexpectedEOF is returned when the token stream ends before the element
// being decoded is closed.
var ErrUnexpectedEOF = errors.New("element: unexpected EOF inside element")

// Decode reads tokens from r until the end of the element started by start and
// returns the resulting tree.
// The tokens must have been produced by a namespace aware decoder (such as
// *xml.Decoder.Token); namespace declarations are dropped since every element
// carries its resolved namespace.
func Decode(r xml.TokenReader, start xml.StartElement) (*Element, error) {
	e := &Element{Name: start.Name}
	for _, a := range start.Attr {
		if attr.IsNSDecl(a) {
			continue
		}
		e.Attr = append(e.Attr, a)
	}

	for {
		tok, err := r.Token()
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := Decode(r, t)
			if err != nil {
				return nil, err
			}
			e.Child = append(e.Child, child)
		case xml.EndElement:
			return e, nil
		case xml.CharData:
			text := CharData(t)
			if l := len(e.Child); l > 0 {
				if prev, ok := e.Child[l-1].(CharData); ok {
					e.Child[l-1] = prev + text
					break
				}
			}
			e.Child = append(e.Child, text)
		}
		// A reader may return the last token along with an error.
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Parse decodes the first element found in s.
func Parse(s string) (*Element, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return Decode(d, start)
		}
	}
}

// MustParse is like Parse but panics on error.
// It simplifies building elements from known-good constant strings.
func MustParse(s string) *Element {
	e, err := Parse(s)
	if err != nil {
		panic("element: MustParse(" + s + "): " + err.Error())
	}
	return e
}
