// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/proxy"

	"mellium.im/keelsbot/internal/discover"
)

// dialFunc returns the function used to open TCP connections, taking the
// proxy settings into account.
func (o Options) dialFunc() (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	if o.Dial != nil {
		return o.Dial, nil
	}
	var d net.Dialer
	if o.Proxy == "" {
		return d.DialContext, nil
	}
	p, err := proxy.SOCKS5("tcp", o.Proxy, o.ProxyAuth, &d)
	if err != nil {
		return nil, fmt.Errorf("xmpp: bad proxy %q: %w", o.Proxy, err)
	}
	if cd, ok := p.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return p.Dial(network, addr)
	}, nil
}

// addrs returns the addresses to try in order.
func (o Options) addrs(ctx context.Context) ([]string, error) {
	if o.Address != "" {
		return []string{o.Address}, nil
	}
	records, err := discover.LookupService(ctx, o.Resolver, "xmpp-client", o.JID.Domainpart())
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(records))
	for _, r := range records {
		addrs = append(addrs, discover.Addr(r))
	}
	return addrs, nil
}

// dial connects to the first address that accepts a connection.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dial, err := c.opts.dialFunc()
	if err != nil {
		return nil, err
	}
	addrs, err := c.opts.addrs(ctx)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, addr := range addrs {
		c.debug.Printf("connecting to %s", addr)
		conn, err := dial(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("xmpp: could not connect to %s: %w", c.opts.JID.Domainpart(), errors.Join(errs...))
}
