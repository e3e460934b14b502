// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// IDGen produces stanza identifiers from a monotonically increasing counter.
// IDs are upper case hexadecimal and unique for the lifetime of the generator.
// The zero value is ready to use and safe for concurrent use.
type IDGen struct {
	n atomic.Uint64
}

// Next returns a new identifier.
func (g *IDGen) Next() string {
	return strings.ToUpper(strconv.FormatUint(g.n.Add(1), 16))
}
