// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package logwriter_test

import (
	"bytes"
	"io"
	"log"
	"testing"

	"mellium.im/keelsbot/internal/logwriter"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	w := logwriter.New(log.New(&buf, "RECV ", 0))
	if _, err := io.WriteString(w, "<presence/>"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(nil); err != nil {
		t.Fatal(err)
	}
	if s := buf.String(); s != "RECV <presence/>\n" {
		t.Errorf("Unexpected log output %q", s)
	}
}

func TestDiscard(t *testing.T) {
	if w := logwriter.New(nil); w != io.Discard {
		t.Errorf("Expected a nil logger to discard writes")
	}
	if w := logwriter.New(log.New(io.Discard, "", 0)); w != io.Discard {
		t.Errorf("Expected a discarding logger to discard writes")
	}
}
