// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"crypto/tls"
	"encoding/xml"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/mask"
)

// StartTLS returns a stream feature that upgrades the connection to TLS.
// If TLS is disabled in the options the feature is never claimed.
func StartTLS() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.StartTLS, Local: "starttls"},
		Prohibited: Secure,
		Breaking:   true,
		Negotiate: func(n *Negotiation, _ *element.Element) (bool, error) {
			opts := n.Options()
			if opts.NoTLS {
				n.c.logger.Printf("server offers StartTLS but TLS is disabled")
				return false, nil
			}

			reply := mask.Any(
				mask.Name(ns.StartTLS, "proceed"),
				mask.Name(ns.StartTLS, "failure"),
			)
			n.HandleOnce(reply, func(e *element.Element) error {
				if e.Name.Local == "failure" {
					n.Fail(ErrTLSFailed)
					return nil
				}
				if err := n.StartTLS(tlsConfig(opts)); err != nil {
					n.Fail(err)
					return err
				}
				n.c.debug.Printf("connection secured")
				return nil
			})
			return true, n.Send(element.New(ns.StartTLS, "starttls"))
		},
	}
}

func tlsConfig(opts Options) *tls.Config {
	var cfg *tls.Config
	if opts.TLSConfig != nil {
		cfg = opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = opts.JID.Domainpart()
	}
	return cfg
}
