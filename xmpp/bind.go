// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"encoding/xml"
	"fmt"

	"mellium.im/keelsbot/element"
	"mellium.im/keelsbot/internal/ns"
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/mask"
	"mellium.im/keelsbot/stanza"
)

// BindResource is a stream feature that binds the configured resource, or one
// chosen by the server if none is configured.
// Once the resource is bound the session is established, either with the
// legacy session feature if the server requires it or immediately.
func BindResource() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.Bind, Local: "bind"},
		Necessary:  Authn,
		Prohibited: Bound,
		Breaking:   true,
		Negotiate: func(n *Negotiation, _ *element.Element) (bool, error) {
			payload := element.New(ns.Bind, "bind")
			if r := n.Options().Resource; r != "" {
				payload.AppendText("", "resource", r)
			}
			req := stanza.NewIQ(stanza.SetIQ, jid.JID{}, n.NewID(), payload)

			n.HandleOnce(mask.Reply(req.ID), func(e *element.Element) error {
				j, err := decodeBind(e)
				if err != nil {
					n.Fail(err)
					return err
				}
				n.SetJID(j)
				n.SetState(Bound)
				n.c.debug.Printf("bound resource %s", j.Resourcepart())
				return establishSession(n, n.Offered(ns.Session, "session"))
			})
			return true, n.Send(req.Element())
		},
	}
}

func decodeBind(e *element.Element) (jid.JID, error) {
	reply, err := stanza.DecodeIQ(e)
	if err != nil {
		return jid.JID{}, err
	}
	if reply.Err != nil {
		return jid.JID{}, fmt.Errorf("xmpp: resource binding failed: %w", reply.Err)
	}
	if reply.Payload == nil {
		return jid.JID{}, fmt.Errorf("xmpp: resource binding failed: empty reply")
	}
	j, err := jid.Parse(reply.Payload.ChildText("", "jid"))
	if err != nil {
		return jid.JID{}, fmt.Errorf("xmpp: server bound an invalid address: %w", err)
	}
	return j, nil
}

// Session is the legacy session establishment feature of RFC 3921.
// It is normally negotiated as part of resource binding; on its own it is
// only claimed when a server lists it after the resource has been bound.
func Session() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.Session, Local: "session"},
		Necessary:  Bound,
		Prohibited: Ready,
		Breaking:   true,
		Negotiate: func(n *Negotiation, feature *element.Element) (bool, error) {
			return true, establishSession(n, feature)
		},
	}
}

// establishSession sends the session request if feature is a non optional
// session feature and marks the session as ready, either right away or when
// the server replies.
func establishSession(n *Negotiation, feature *element.Element) error {
	if feature == nil || feature.Find("", "optional") != nil {
		n.Ready()
		return nil
	}
	req := stanza.NewIQ(stanza.SetIQ, jid.JID{}, n.NewID(), element.New(ns.Session, "session"))
	n.HandleOnce(mask.Reply(req.ID), func(e *element.Element) error {
		reply, err := stanza.DecodeIQ(e)
		if err != nil {
			n.Fail(err)
			return err
		}
		if reply.Err != nil {
			err = fmt.Errorf("xmpp: session establishment failed: %w", reply.Err)
			n.Fail(err)
			return err
		}
		n.Ready()
		return nil
	})
	return n.Send(req.Element())
}
