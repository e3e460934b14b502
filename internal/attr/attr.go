// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains unexported functionality related to XML attributes.
package attr // import "mellium.im/keelsbot/internal/attr"

import (
	"encoding/xml"
)

// Get returns the index and value of the first attribute with the provided
// local name from a list of attributes.
// If no such attribute exists, idx is -1 and the value is empty.
func Get(attr []xml.Attr, local string) (idx int, value string) {
	for i, a := range attr {
		if a.Name.Local == local {
			return i, a.Value
		}
	}
	return -1, ""
}

// Set replaces the value of the first attribute with the provided local name
// or appends a new attribute if none exists.
func Set(attr []xml.Attr, local, value string) []xml.Attr {
	if idx, _ := Get(attr, local); idx != -1 {
		attr[idx].Value = value
		return attr
	}
	return append(attr, xml.Attr{Name: xml.Name{Local: local}, Value: value})
}

// Remove deletes every attribute with the provided local name.
func Remove(attr []xml.Attr, local string) []xml.Attr {
	out := attr[:0]
	for _, a := range attr {
		if a.Name.Local != local {
			out = append(out, a)
		}
	}
	return out
}

// IsNSDecl reports whether a is a namespace declaration (xmlns or xmlns:*).
func IsNSDecl(a xml.Attr) bool {
	return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
}
