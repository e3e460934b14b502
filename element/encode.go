// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package element

import (
	"bufio"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"

	"mellium.im/xmlstream"

	"mellium.im/keelsbot/internal/attr"
	"mellium.im/keelsbot/internal/ns"
)

var escaper = strings.NewReplacer(
	`&`, "&amp;",
	`<`, "&lt;",
	`>`, "&gt;",
	`"`, "&quot;",
	`'`, "&apos;",
)

// Escape replaces the five XML special characters in s with their predefined
// entities.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Errors returned by the Encoder.
var (
	ErrUnbalanced = errors.New("element: end element does not match start element")
	ErrToken      = errors.New("element: unsupported token type")
)

// Encoder writes XML tokens using the fewest namespace declarations possible:
// an xmlns attribute is only written when an element's namespace differs from
// the namespace in scope.
// Empty elements are written in their self-closing form.
type Encoder struct {
	w      *bufio.Writer
	scope  []string
	names  []xml.Name
	open   bool
	prefix int
	defNS  string
}

// NewEncoder returns an encoder that writes to w, treating defaultNS as the
// namespace in scope for top level elements.
func NewEncoder(w io.Writer, defaultNS string) *Encoder {
	return &Encoder{
		w:     bufio.NewWriter(w),
		defNS: defaultNS,
	}
}

var _ xmlstream.TokenWriter = (*Encoder)(nil)

func (enc *Encoder) current() string {
	if l := len(enc.scope); l > 0 {
		return enc.scope[l-1]
	}
	return enc.defNS
}

func (enc *Encoder) closeStart() error {
	if !enc.open {
		return nil
	}
	enc.open = false
	return enc.w.WriteByte('>')
}

// EncodeToken writes the given token.
// StartElement, EndElement and CharData are supported; comments, processing
// instructions and directives are not allowed on an XMPP stream.
func (enc *Encoder) EncodeToken(t xml.Token) error {
	switch tok := t.(type) {
	case xml.StartElement:
		if err := enc.closeStart(); err != nil {
			return err
		}
		return enc.writeStart(tok)
	case xml.EndElement:
		l := len(enc.names)
		if l == 0 || enc.names[l-1].Local != tok.Name.Local {
			return ErrUnbalanced
		}
		enc.names = enc.names[:l-1]
		enc.scope = enc.scope[:l-1]
		if enc.open {
			enc.open = false
			_, err := enc.w.WriteString("/>")
			return err
		}
		_, err := enc.w.WriteString("</" + tok.Name.Local + ">")
		return err
	case xml.CharData:
		if err := enc.closeStart(); err != nil {
			return err
		}
		_, err := enc.w.WriteString(Escape(string(tok)))
		return err
	}
	return ErrToken
}

func (enc *Encoder) writeStart(tok xml.StartElement) error {
	space := tok.Name.Space
	if space == "" {
		space = enc.current()
	}

	b := enc.w
	b.WriteByte('<')
	b.WriteString(tok.Name.Local)
	if space != enc.current() {
		writeAttr(b, "xmlns", space)
	}

	for _, a := range tok.Attr {
		if attr.IsNSDecl(a) {
			continue
		}
		switch a.Name.Space {
		case "":
			writeAttr(b, a.Name.Local, a.Value)
		case ns.XML:
			writeAttr(b, "xml:"+a.Name.Local, a.Value)
		default:
			enc.prefix++
			p := "ns" + strconv.Itoa(enc.prefix)
			writeAttr(b, "xmlns:"+p, a.Name.Space)
			writeAttr(b, p+":"+a.Name.Local, a.Value)
		}
	}

	enc.names = append(enc.names, tok.Name)
	enc.scope = append(enc.scope, space)
	enc.open = true
	return nil
}

func writeAttr(b *bufio.Writer, name, value string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`='`)
	b.WriteString(Escape(value))
	b.WriteByte('\'')
}

// Flush writes any buffered data to the underlying writer.
// A start element that has not yet been closed stays pending until the next
// token decides whether it is self-closing.
func (enc *Encoder) Flush() error {
	return enc.w.Flush()
}

// Marshal serializes e as it would appear inside an element whose namespace is
// parentNS.
func Marshal(e *Element, parentNS string) (string, error) {
	var b strings.Builder
	enc := NewEncoder(&b, parentNS)
	if _, err := e.WriteXML(enc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Write serializes e to w as a top level element of a stream whose default
// namespace is streamNS.
func Write(w io.Writer, e *Element, streamNS string) error {
	enc := NewEncoder(w, streamNS)
	if _, err := e.WriteXML(enc); err != nil {
		return err
	}
	return enc.Flush()
}
