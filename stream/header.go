// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"mellium.im/keelsbot/internal/decl"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
)

// Version is a version of XMPP.
type Version struct {
	Major uint8
	Minor uint8
}

// DefaultVersion is the XMPP version sent in stream headers.
var DefaultVersion = Version{Major: 1, Minor: 0}

// ParseVersion parses a string of the form "Major.Minor" into a Version struct
// or returns an error.
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return Version{}, errors.New("stream: XMPP version must have a single separator")
	}
	ma, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return Version{}, err
	}
	mi, err := strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: uint8(ma), Minor: uint8(mi)}, nil
}

// String returns the version in the form "Major.Minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Header is the information sent in an opening stream header.
type Header struct {
	To      jid.JID
	From    jid.JID
	Lang    language.Tag
	Version Version
	XMLNS   string
}

// Send writes an XML declaration followed by a stream start element on w.
// We don't use an encoder because the stream element is never closed and the
// namespaced stream:stream name is awkward to produce with encoding/xml;
// printing also guarantees the exact prefixes servers expect.
func Send(w io.Writer, h Header) error {
	if h.XMLNS == "" {
		h.XMLNS = ns.Client
	}
	if h.Version == (Version{}) {
		h.Version = DefaultVersion
	}

	b := bufio.NewWriter(w)
	b.WriteString(decl.XMLHeader + `<stream:stream`)
	if !h.To.IsZero() {
		writeAttr(b, "to", h.To.String())
	}
	if !h.From.IsZero() {
		writeAttr(b, "from", h.From.String())
	}
	writeAttr(b, "version", h.Version.String())
	if h.Lang != language.Und {
		writeAttr(b, "xml:lang", h.Lang.String())
	}
	writeAttr(b, "xmlns", h.XMLNS)
	writeAttr(b, "xmlns:stream", NS)
	b.WriteByte('>')
	return b.Flush()
}

func writeAttr(b *bufio.Writer, name, value string) {
	b.WriteString(" " + name + "='")
	xml.EscapeText(b, []byte(value))
	b.WriteByte('\'')
}

// Close writes the closing stream tag to w.
func Close(w io.Writer) error {
	_, err := io.WriteString(w, `</stream:stream>`)
	return err
}

// Info contains metadata extracted from a received stream start token.
type Info struct {
	To      jid.JID
	From    jid.JID
	ID      string
	Version Version
	XMLNS   string
	Lang    string
}

// FromStartElement validates a stream start token and extracts its metadata.
// All errors returned are stream errors.
func FromStartElement(s xml.StartElement) (Info, error) {
	var i Info
	if s.Name.Local != "stream" {
		return i, BadFormat
	}
	if s.Name.Space != NS {
		return i, InvalidNamespace
	}
	for _, attr := range s.Attr {
		switch attr.Name {
		case xml.Name{Space: "", Local: "to"}:
			if err := (&i.To).UnmarshalXMLAttr(attr); err != nil {
				return i, ImproperAddressing
			}
		case xml.Name{Space: "", Local: "from"}:
			if err := (&i.From).UnmarshalXMLAttr(attr); err != nil {
				return i, ImproperAddressing
			}
		case xml.Name{Space: "", Local: "id"}:
			i.ID = attr.Value
		case xml.Name{Space: "", Local: "version"}:
			v, err := ParseVersion(attr.Value)
			if err != nil {
				return i, BadFormat
			}
			i.Version = v
		case xml.Name{Space: "", Local: "xmlns"}:
			if attr.Value != ns.Client && attr.Value != "jabber:server" && attr.Value != "jabber:component:accept" {
				return i, InvalidNamespace
			}
			i.XMLNS = attr.Value
		case xml.Name{Space: "xmlns", Local: "stream"}:
			if attr.Value != NS {
				return i, InvalidNamespace
			}
		case xml.Name{Space: "xml", Local: "lang"}, xml.Name{Space: ns.XML, Local: "lang"}:
			i.Lang = attr.Value
		}
	}
	if i.XMLNS == "" {
		i.XMLNS = ns.Client
	}
	return i, nil
}
