// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mask implements structural pattern matching of stanzas.
//
// A mask is a partial element: a name, a set of attributes that must have a
// given value (or must be absent), optional text and a list of child masks.
// An element matches a mask if it has the same local name (and namespace, if
// the mask specifies one), carries every required attribute, has the required
// text, and for every child mask has at least one child that matches it.
// Anything else the element contains is ignored, so
//
//	<message type='chat'><body/></message>
//
// matches any chat message that has a body.
package mask // import "mellium.im/keelsbot/mask"

import (
	"encoding/xml"
	"strings"

	"mellium.im/keelsbot/element"
)

// Absent is the attribute value used in parsed masks to require that an
// attribute is not present.
const Absent = "#absent"

// Matcher reports whether an element is accepted.
type Matcher interface {
	Match(e *element.Element) bool
}

// Func is an adapter that allows a plain function to be used as a Matcher.
type Func func(*element.Element) bool

// Match calls f(e).
func (f Func) Match(e *element.Element) bool {
	return f(e)
}

// Mask is a structural pattern.
// The zero value for Name.Space matches any namespace.
type Mask struct {
	Name     xml.Name
	Attr     map[string]string
	Absent   []string
	Text     string
	Children []*Mask
}

// New returns a mask matching elements with the given namespace and local name.
func New(space, local string) *Mask {
	return &Mask{Name: xml.Name{Space: space, Local: local}}
}

// With adds a required attribute value and returns the mask.
func (m *Mask) With(local, value string) *Mask {
	if m.Attr == nil {
		m.Attr = make(map[string]string)
	}
	m.Attr[local] = value
	return m
}

// Without requires that the attribute is absent and returns the mask.
func (m *Mask) Without(local string) *Mask {
	m.Absent = append(m.Absent, local)
	return m
}

// Child adds a required child mask and returns the parent.
func (m *Mask) Child(c *Mask) *Mask {
	m.Children = append(m.Children, c)
	return m
}

// Match reports whether e matches the mask.
func (m *Mask) Match(e *element.Element) bool {
	if e == nil || m == nil {
		return false
	}
	if !e.Is(m.Name.Space, m.Name.Local) {
		return false
	}
	if m.Text != "" && strings.TrimSpace(e.Text()) != m.Text {
		return false
	}
	for k, v := range m.Attr {
		got, ok := e.Lookup(k)
		if !ok || got != v {
			return false
		}
	}
	for _, k := range m.Absent {
		if _, ok := e.Lookup(k); ok {
			return false
		}
	}
	for _, c := range m.Children {
		if !anyChild(e, c) {
			return false
		}
	}
	return true
}

func anyChild(e *element.Element, c *Mask) bool {
	for _, child := range e.FindAll(c.Name.Space, c.Name.Local) {
		if c.Match(child) {
			return true
		}
	}
	return false
}

// String returns a readable form of the mask for logging.
func (m *Mask) String() string {
	if m == nil {
		return "<nil>"
	}
	var b strings.Builder
	m.write(&b)
	return b.String()
}

func (m *Mask) write(b *strings.Builder) {
	b.WriteByte('<')
	b.WriteString(m.Name.Local)
	if m.Name.Space != "" {
		b.WriteString(" xmlns='" + element.Escape(m.Name.Space) + "'")
	}
	for k, v := range m.Attr {
		b.WriteString(" " + k + "='" + element.Escape(v) + "'")
	}
	for _, k := range m.Absent {
		b.WriteString(" " + k + "='" + Absent + "'")
	}
	if m.Text == "" && len(m.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	b.WriteString(element.Escape(m.Text))
	for _, c := range m.Children {
		c.write(b)
	}
	b.WriteString("</" + m.Name.Local + ">")
}

// Parse builds a mask from its XML form.
// Namespaces are only required where the XML declares them, so
// "<iq type='get'><query xmlns='jabber:iq:version'/></iq>" matches an iq in
// any namespace containing a version query.
// An attribute with the value Absent must not be present on matching
// elements.
func Parse(s string) (*Mask, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	for {
		tok, err := d.RawToken()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decode(d, start, "")
		}
	}
}

// MustParse is like Parse but panics if the mask cannot be parsed.
func MustParse(s string) *Mask {
	m, err := Parse(s)
	if err != nil {
		panic("mask: MustParse(" + s + "): " + err.Error())
	}
	return m
}

func decode(d *xml.Decoder, start xml.StartElement, inherited string) (*Mask, error) {
	m := &Mask{Name: xml.Name{Space: inherited, Local: start.Name.Local}}
	for _, a := range start.Attr {
		switch {
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			m.Name.Space = a.Value
		case a.Name.Space == "xmlns":
		case a.Value == Absent:
			m.Without(a.Name.Local)
		default:
			m.With(a.Name.Local, a.Value)
		}
	}
	for {
		tok, err := d.RawToken()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			c, err := decode(d, t, m.Name.Space)
			if err != nil {
				return nil, err
			}
			m.Children = append(m.Children, c)
		case xml.CharData:
			m.Text += strings.TrimSpace(string(t))
		case xml.EndElement:
			return m, nil
		}
	}
}
