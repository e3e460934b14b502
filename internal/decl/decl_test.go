// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package decl_test

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"testing"

	"mellium.im/xmlstream"

	"mellium.im/keelsbot/internal/decl"
)

var skipTests = [...]struct {
	in  string
	out string
}{
	0: {},
	1: {in: "<presence/>", out: "<presence></presence>"},
	2: {in: xml.Header + "<presence/>", out: "<presence></presence>"},
	3: {in: decl.XMLHeader + "\r\n\t<iq/>", out: "<iq></iq>"},
	4: {in: `<?xml?><message> <body/></message>`, out: "<message> <body></body></message>"},
	5: {in: `<?xml-stylesheet href='a'?><iq/>`, out: "<?xml-stylesheet href='a'?><iq></iq>"},
	6: {in: decl.XMLHeader},
	7: {in: " \n<presence/>\n", out: "<presence></presence>\n"},
}

func TestSkip(t *testing.T) {
	for i, tc := range skipTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			d := decl.Skip(xml.NewDecoder(strings.NewReader(tc.in)))
			buf := &bytes.Buffer{}
			e := xml.NewEncoder(buf)
			if _, err := xmlstream.Copy(e, d); err != nil {
				t.Fatalf("error copying tokens: %v", err)
			}
			if err := e.Flush(); err != nil {
				t.Fatalf("error flushing tokens: %v", err)
			}
			if s := buf.String(); s != tc.out {
				t.Errorf("wrong output: want=%q, got=%q", tc.out, s)
			}
		})
	}
}

// The declaration may arrive together with the end of the input.
func TestDeclarationAtEOF(t *testing.T) {
	d := decl.Skip(xmlstream.Token(xml.ProcInst{Target: "xml", Inst: []byte("version='1.0'")}))
	for i := 0; i < 2; i++ {
		tok, err := d.Token()
		if err != io.EOF {
			t.Errorf("expected EOF on read %d, got %v", i, err)
		}
		if tok != nil {
			t.Errorf("unexpected token on read %d: %T %[2]v", i, tok)
		}
	}
}
