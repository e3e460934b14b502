// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package discover_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"

	"mellium.im/keelsbot/internal/discover"
)

type fakeResolver struct {
	addrs []*net.SRV
	err   error
}

func (r fakeResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	return "_" + service + "._" + proto + "." + name, r.addrs, r.err
}

var errBroken = errors.New("broken resolver")

var lookupTests = [...]struct {
	service string
	r       fakeResolver
	out     []string
	err     error
}{
	0: {service: "xmpp-client", r: fakeResolver{err: &net.DNSError{IsNotFound: true}}, out: []string{"example.net:5222"}},
	1: {service: "xmpps-client", r: fakeResolver{}, out: []string{"example.net:5223"}},
	2: {service: "xmpp-client", r: fakeResolver{err: errBroken}, err: errBroken},
	3: {service: "xmpp-client", r: fakeResolver{addrs: []*net.SRV{{Target: "."}}}, err: discover.ErrNoService},
	4: {service: "http", err: discover.ErrInvalidService},
	5: {
		service: "xmpp-client",
		r:       fakeResolver{addrs: []*net.SRV{{Target: "b.example.net.", Port: 5222, Priority: 10}, {Target: "a.example.net.", Port: 5223, Priority: 1}}},
		out:     []string{"a.example.net:5223", "b.example.net:5222"},
	},
}

func TestLookupService(t *testing.T) {
	for i, tc := range lookupTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			addrs, err := discover.LookupService(context.Background(), tc.r, tc.service, "example.net")
			if !errors.Is(err, tc.err) {
				t.Fatalf("Unexpected error: want=%v, got=%v", tc.err, err)
			}
			got := make([]string, 0, len(addrs))
			for _, a := range addrs {
				got = append(got, discover.Addr(a))
			}
			if strings.Join(got, " ") != strings.Join(tc.out, " ") {
				t.Errorf("Wrong addresses: want=%v, got=%v", tc.out, got)
			}
		})
	}
}

func targets(addrs []*net.SRV) string {
	s := make([]string, 0, len(addrs))
	for _, a := range addrs {
		s = append(s, a.Target)
	}
	return strings.Join(s, ",")
}

func TestOrder(t *testing.T) {
	in := []*net.SRV{
		{Target: "a", Priority: 10, Weight: 0},
		{Target: "b", Priority: 10, Weight: 10},
		{Target: "c", Priority: 5, Weight: 50},
		{Target: "d", Priority: 10, Weight: 30},
	}
	low := func(uint32) uint32 { return 0 }
	high := func(n uint32) uint32 { return n - 1 }

	if got := targets(discover.Order(in, low)); got != "c,a,b,d" {
		t.Errorf("Wrong order picking the lowest value: %s", got)
	}
	if got := targets(discover.Order(in, high)); got != "c,d,b,a" {
		t.Errorf("Wrong order picking the highest value: %s", got)
	}
	if got := targets(in); got != "a,b,c,d" {
		t.Errorf("Order modified its input: %s", got)
	}
}

func TestOrderDistribution(t *testing.T) {
	in := []*net.SRV{
		{Target: "light", Weight: 1},
		{Target: "heavy", Weight: 99},
	}
	// Walk every possible random value once: heavy must be first for all but
	// the values that land on light's share of the running sum.
	var first = map[string]int{}
	for v := uint32(0); v <= 100; v++ {
		v := v
		calls := 0
		r := func(n uint32) uint32 {
			calls++
			if calls == 1 {
				return v
			}
			return 0
		}
		first[discover.Order(in, r)[0].Target]++
	}
	if first["light"] != 2 || first["heavy"] != 99 {
		t.Errorf("Unexpected distribution of first picks: %v", first)
	}
}
