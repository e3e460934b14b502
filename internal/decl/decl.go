// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package decl contains functionality related to XML declarations.
package decl // import "mellium.im/keelsbot/internal/decl"

import (
	"encoding/xml"
)

// XMLHeader is the XML declaration written before every stream header.
const XMLHeader = `<?xml version='1.0'?>`

type skipper struct {
	r       xml.TokenReader
	started bool
}

// Token implements xml.TokenReader.
// Whitespace before the first meaningful token is dropped along with the
// declaration.
func (r *skipper) Token() (xml.Token, error) {
	for {
		tok, err := r.r.Token()
		if tok == nil || r.started {
			return tok, err
		}
		switch t := tok.(type) {
		case xml.ProcInst:
			if t.Target == "xml" {
				if err != nil {
					return nil, err
				}
				continue
			}
		case xml.CharData:
			if isSpace(t) && err == nil {
				continue
			}
		}
		r.started = true
		return tok, err
	}
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

// Skip wraps a token reader and skips any XML declaration and leading
// whitespace.
func Skip(r xml.TokenReader) xml.TokenReader {
	return &skipper{r: r}
}
