// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package event

import (
	"mellium.im/keelsbot/jid"
	"mellium.im/keelsbot/roster"
	"mellium.im/keelsbot/stanza"
)

// Disconnect is the payload of Disconnected.
// Err is nil when the stream was closed cleanly.
type Disconnect struct {
	Err error
}

// Session is the payload of SessionStart and Reconnected.
type Session struct {
	JID jid.JID
}

// AuthFailure is the payload of FailedAuth.
type AuthFailure struct {
	Mechanism string
	Condition string
	Text      string
}

// Message is the payload of ChatMessage and GroupchatMessage.
// JID is the bare address of the sender, for groupchat messages the room, and
// Resource is the sending resource or occupant nickname.
type Message struct {
	JID      jid.JID
	Resource string
	Name     string
	Type     stanza.MessageType
	Subject  string
	Body     string
	Stanza   stanza.Message
}

// Presence is the payload of GotOnline, GotOffline, ChangedStatus and
// GroupchatPresence.
// Show is "available" or "unavailable" when the stanza has no show element.
type Presence struct {
	JID      jid.JID
	Resource string
	Name     string
	Show     string
	Status   string
	Priority int8
	Stanza   stanza.Presence
}

// Subscription is the payload of ChangedSubscription.
type Subscription struct {
	JID  jid.JID
	Type stanza.PresenceType
}

// Roster is the payload of RosterUpdate: the items that were added or changed.
type Roster struct {
	Items []roster.Item
}
