// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package element is an in-memory XML tree used to hold stanzas and other top
// level stream elements.
//
// Elements are produced by the stream parser, matched against masks, viewed
// through the typed stanza API and serialized back to the wire.
// Once an element has been dispatched it must be treated as immutable; filters
// that want to change it return a modified copy.
package element // import "mellium.im/keelsbot/element"

import (
	"encoding/xml"
	"strings"

	"mellium.im/xmlstream"

	"mellium.im/keelsbot/internal/attr"
)

// Node is either an *Element or CharData.
type Node interface {
	node()
}

// CharData is a run of text inside an element.
type CharData string

func (CharData) node() {}

// Element is a single XML element and its children.
// An empty Name.Space means the element inherits its parent's namespace.
type Element struct {
	Name  xml.Name
	Attr  []xml.Attr
	Child []Node
}

func (*Element) node() {}

// New returns an element with the given namespace, local name and attributes.
func New(space, local string, attr ...xml.Attr) *Element {
	return &Element{
		Name: xml.Name{Space: space, Local: local},
		Attr: attr,
	}
}

// Get returns the value of the attribute with the given local name or the
// empty string.
func (e *Element) Get(local string) string {
	_, v := attr.Get(e.Attr, local)
	return v
}

// Lookup is like Get but also reports whether the attribute exists.
func (e *Element) Lookup(local string) (string, bool) {
	idx, v := attr.Get(e.Attr, local)
	return v, idx != -1
}

// Set sets an attribute and returns the element.
// Setting an attribute to the empty string removes it.
func (e *Element) Set(local, value string) *Element {
	if value == "" {
		e.Attr = attr.Remove(e.Attr, local)
		return e
	}
	e.Attr = attr.Set(e.Attr, local, value)
	return e
}

// Append adds child nodes and returns the element.
func (e *Element) Append(n ...Node) *Element {
	for _, c := range n {
		if c == nil {
			continue
		}
		if el, ok := c.(*Element); ok && el == nil {
			continue
		}
		e.Child = append(e.Child, c)
	}
	return e
}

// AppendText adds a child element containing only text and returns the
// parent.
// Nothing is added if text is empty.
func (e *Element) AppendText(space, local, text string) *Element {
	if text == "" {
		return e
	}
	return e.Append(New(space, local).SetText(text))
}

// Elements returns the child elements, skipping character data.
func (e *Element) Elements() []*Element {
	var out []*Element
	for _, c := range e.Child {
		if el, ok := c.(*Element); ok {
			out = append(out, el)
		}
	}
	return out
}

// Find returns the first child element with the given name.
// An empty space matches any namespace.
func (e *Element) Find(space, local string) *Element {
	for _, c := range e.Child {
		el, ok := c.(*Element)
		if ok && el.Is(space, local) {
			return el
		}
	}
	return nil
}

// FindAll returns every child element with the given name.
func (e *Element) FindAll(space, local string) []*Element {
	var out []*Element
	for _, c := range e.Child {
		el, ok := c.(*Element)
		if ok && el.Is(space, local) {
			out = append(out, el)
		}
	}
	return out
}

// Is reports whether the element has the given local name and, if space is
// not empty, the given namespace.
func (e *Element) Is(space, local string) bool {
	if e == nil || e.Name.Local != local {
		return false
	}
	return space == "" || e.Name.Space == space
}

// Text returns the concatenated character data that is a direct child of the
// element.
func (e *Element) Text() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range e.Child {
		if cd, ok := c.(CharData); ok {
			b.WriteString(string(cd))
		}
	}
	return b.String()
}

// SetText replaces all character data children of the element with text.
func (e *Element) SetText(text string) *Element {
	kept := e.Child[:0]
	for _, c := range e.Child {
		if _, ok := c.(CharData); !ok {
			kept = append(kept, c)
		}
	}
	e.Child = kept
	if text != "" {
		e.Child = append([]Node{CharData(text)}, e.Child...)
	}
	return e
}

// ChildText returns the text of the first child with the given name.
func (e *Element) ChildText(space, local string) string {
	return e.Find(space, local).Text()
}

// Copy returns a deep copy of the element.
func (e *Element) Copy() *Element {
	if e == nil {
		return nil
	}
	c := &Element{
		Name: e.Name,
		Attr: append([]xml.Attr(nil), e.Attr...),
	}
	if len(e.Child) > 0 {
		c.Child = make([]Node, 0, len(e.Child))
	}
	for _, n := range e.Child {
		switch v := n.(type) {
		case *Element:
			c.Child = append(c.Child, v.Copy())
		case CharData:
			c.Child = append(c.Child, v)
		}
	}
	return c
}

// StartElement returns the start token of the element.
func (e *Element) StartElement() xml.StartElement {
	return xml.StartElement{
		Name: e.Name,
		Attr: append([]xml.Attr(nil), e.Attr...),
	}
}

// TokenReader returns a stream of XML tokens for the element and all of its
// children.
func (e *Element) TokenReader() xml.TokenReader {
	inner := make([]xml.TokenReader, 0, len(e.Child))
	for _, n := range e.Child {
		switch v := n.(type) {
		case *Element:
			inner = append(inner, v.TokenReader())
		case CharData:
			inner = append(inner, xmlstream.Token(xml.CharData(v)))
		}
	}
	return xmlstream.Wrap(xmlstream.MultiReader(inner...), e.StartElement())
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (e *Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// String serializes the element as it would appear as a top level stanza on a
// jabber:client stream.
func (e *Element) String() string {
	s, err := Marshal(e, "jabber:client")
	if err != nil {
		return "<!-- " + err.Error() + " -->"
	}
	return s
}
