// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package discover is used to look up the address of an XMPP service.
package discover // import "mellium.im/keelsbot/internal/discover"

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sort"
	"strconv"
)

// Errors returned by this package.
var (
	ErrInvalidService = errors.New("service must be one of xmpp[s]-client or xmpp[s]-server")
	ErrNoService      = errors.New("discover: service is decidedly not available at this domain")
)

// Resolver looks up SRV records.
// It is implemented by *net.Resolver.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	ok := errors.As(err, &dnsErr)
	return ok && dnsErr.IsNotFound
}

// FallbackRecords returns fake SRV records based on the service that can be
// used if no actual SRV records can be found but we believe that an XMPP
// service exists at the given domain.
func FallbackRecords(service, domain string) []*net.SRV {
	var port uint16
	switch service {
	case "xmpp-client":
		port = 5222
	case "xmpps-client":
		port = 5223
	case "xmpp-server":
		port = 5269
	case "xmpps-server":
		port = 5270
	default:
		return nil
	}
	return []*net.SRV{{Target: domain, Port: port}}
}

// LookupService looks for an XMPP service hosted by the given domain.
// It returns the SRV records in the order they should be tried and if none
// are found returns a fallback record using the domain itself and the default
// port of the service.
// If the only record has the target "." ErrNoService is returned.
// Service should be one of "xmpp[s]-client" or "xmpp[s]-server".
func LookupService(ctx context.Context, resolver Resolver, service, domain string) ([]*net.SRV, error) {
	switch service {
	case "xmpp-client", "xmpp-server", "xmpps-client", "xmpps-server":
	default:
		return nil, ErrInvalidService
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	_, addrs, err := resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if len(addrs) == 0 {
		return FallbackRecords(service, domain), nil
	}

	// RFC 6120 §3.2.1
	//    3.  If a response is received, it will contain one or more
	//        combinations of a port and FDQN, each of which is weighted and
	//        prioritized as described in [DNS-SRV].  (However, if the result
	//        of the SRV lookup is a single resource record with a Target of
	//        ".", i.e., the root domain, then the initiating entity MUST abort
	//        SRV processing at this point because according to [DNS-SRV] such
	//        a Target "means that the service is decidedly not available at
	//        this domain".)
	if len(addrs) == 1 && addrs[0].Target == "." {
		return nil, ErrNoService
	}
	return Order(addrs, rand.Uint32N), nil
}

// Order sorts records into the order in which they should be tried as
// described in RFC 2782: lower priorities first and, within a priority,
// by repeated weighted random selection.
// Records with a weight of zero are only picked before heavier records very
// rarely, but are never starved.
// The random function must return a value in [0, n).
// The input slice is not modified.
func Order(addrs []*net.SRV, random func(n uint32) uint32) []*net.SRV {
	byPrio := make([]*net.SRV, len(addrs))
	copy(byPrio, addrs)
	sort.SliceStable(byPrio, func(i, j int) bool {
		return byPrio[i].Priority < byPrio[j].Priority
	})

	out := make([]*net.SRV, 0, len(addrs))
	for len(byPrio) > 0 {
		end := 1
		for end < len(byPrio) && byPrio[end].Priority == byPrio[0].Priority {
			end++
		}
		out = append(out, pickWeighted(byPrio[:end], random)...)
		byPrio = byPrio[end:]
	}
	return out
}

func pickWeighted(group []*net.SRV, random func(n uint32) uint32) []*net.SRV {
	// Zero weight records go first so that a running sum that lands on zero can
	// still select them.
	remaining := make([]*net.SRV, 0, len(group))
	for _, r := range group {
		if r.Weight == 0 {
			remaining = append(remaining, r)
		}
	}
	for _, r := range group {
		if r.Weight != 0 {
			remaining = append(remaining, r)
		}
	}

	out := make([]*net.SRV, 0, len(group))
	for len(remaining) > 0 {
		var total uint32
		for _, r := range remaining {
			total += uint32(r.Weight)
		}
		n := random(total + 1)
		var sum uint32
		idx := len(remaining) - 1
		for i, r := range remaining {
			sum += uint32(r.Weight)
			if sum >= n {
				idx = i
				break
			}
		}
		out = append(out, remaining[idx])
		remaining = append(remaining[:idx:idx], remaining[idx+1:]...)
	}
	return out
}

// Addr returns the dialable host:port form of a record.
func Addr(r *net.SRV) string {
	return net.JoinHostPort(trimDot(r.Target), strconv.Itoa(int(r.Port)))
}

func trimDot(s string) string {
	if l := len(s); l > 1 && s[l-1] == '.' {
		return s[:l-1]
	}
	return s
}
