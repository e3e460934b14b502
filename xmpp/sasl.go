// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"mellium.im/sasl"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/event"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/mux"
)

// SASL returns a stream feature for performing authentication using the Simple
// Authentication and Security Layer (SASL) as defined in RFC 4422.
// The mechanisms in the options are tried in order of preference.
//
// Authentication requires a secure connection unless TLS is disabled in the
// options or the server does not offer StartTLS.
func SASL() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.SASL, Local: "mechanisms"},
		Prohibited: Authn,
		Breaking:   true,
		Negotiate: func(n *Negotiation, feature *element.Element) (bool, error) {
			opts := n.Options()
			if n.State()&Secure == 0 && !opts.NoTLS && n.Offered(ns.StartTLS, "starttls") != nil {
				n.c.debug.Printf("not authenticating before StartTLS")
				return false, nil
			}

			var remote []string
			for _, m := range feature.FindAll(ns.SASL, "mechanism") {
				remote = append(remote, strings.TrimSpace(m.Text()))
			}
			selected, ok := selectMechanism(opts.Mechanisms, remote)
			if !ok {
				n.c.bus.Emit(event.FailedAuth, event.AuthFailure{Condition: "invalid-mechanism"})
				return true, fmt.Errorf("%w: no mechanism in common with %v", ErrAuthFailed, remote)
			}

			saslOpts := []sasl.Option{
				sasl.Credentials(func() (Username, Password, Identity []byte) {
					return []byte(opts.JID.Localpart()), []byte(opts.Password), nil
				}),
				sasl.RemoteMechanisms(remote...),
			}
			if cs, ok := n.TLSState(); ok {
				saslOpts = append(saslOpts, sasl.TLSState(cs))
			}
			client := sasl.NewClient(selected, saslOpts...)

			more, resp, err := client.Step(nil)
			if err != nil {
				return true, err
			}

			var hid mux.ID
			replies := mask.Any(
				mask.Name(ns.SASL, "challenge"),
				mask.Name(ns.SASL, "success"),
				mask.Name(ns.SASL, "failure"),
			)
			hid = n.Handle(replies, func(e *element.Element) error {
				switch e.Name.Local {
				case "challenge":
					challenge, err := decodeSASL(e.Text())
					if err == nil {
						more, resp, err = client.Step(challenge)
					}
					if err != nil {
						n.Fail(fmt.Errorf("%w: %v", ErrAuthFailed, err))
						return err
					}
					return n.Send(element.New(ns.SASL, "response").SetText(encodeSASL(resp)))
				case "success":
					n.Remove(hid)
					// The server's additional data completes mutual authentication for
					// mechanisms like SCRAM.
					if more {
						data, err := decodeSASL(e.Text())
						if err == nil {
							_, _, err = client.Step(data)
						}
						if err != nil {
							n.Fail(fmt.Errorf("%w: server could not be verified: %v", ErrAuthFailed, err))
							return err
						}
					}
					n.c.debug.Printf("authenticated with %s", selected.Name)
					n.SetState(Authn)
					n.Restart()
					return nil
				}

				n.Remove(hid)
				f := decodeFailure(e)
				f.Mechanism = selected.Name
				n.c.bus.Emit(event.FailedAuth, f)
				n.Fail(fmt.Errorf("%w: %s", ErrAuthFailed, f.Condition))
				return nil
			})

			auth := element.New(ns.SASL, "auth").Set("mechanism", selected.Name).SetText(encodeSASL(resp))
			return true, n.Send(auth)
		},
	}
}

func selectMechanism(local []sasl.Mechanism, remote []string) (sasl.Mechanism, bool) {
	for _, m := range local {
		for _, name := range remote {
			if name == m.Name {
				return m, true
			}
		}
	}
	return sasl.Mechanism{}, false
}

// RFC 6120 §6.4.2:
//
//	If the initiating entity needs to send a zero-length initial response, it
//	MUST transmit the response as a single equals sign character ("="), which
//	indicates that the response is present but contains no data.
func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSASL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "=" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("xmpp: bad base64 in SASL payload")
	}
	return b, nil
}

func decodeFailure(e *element.Element) event.AuthFailure {
	var f event.AuthFailure
	for _, c := range e.Elements() {
		if c.Name.Local == "text" {
			f.Text = c.Text()
			continue
		}
		if f.Condition == "" {
			f.Condition = c.Name.Local
		}
	}
	if f.Condition == "" {
		f.Condition = "not-authorized"
	}
	return f
}
