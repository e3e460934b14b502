// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package muc

// Affiliation indicates a users affiliation to the room.
type Affiliation uint8

// A list of room affiliations.
const (
	AffiliationNone Affiliation = iota

	// Support for the owner affiliation is required.
	AffiliationOwner

	// Support for these affiliations is recommended, but optional.
	AffiliationAdmin
	AffiliationMember
	AffiliationOutcast
)

var affiliations = [...]string{
	AffiliationNone:    "none",
	AffiliationOwner:   "owner",
	AffiliationAdmin:   "admin",
	AffiliationMember:  "member",
	AffiliationOutcast: "outcast",
}

func (a Affiliation) String() string {
	if int(a) < len(affiliations) {
		return affiliations[a]
	}
	return "none"
}

// ParseAffiliation returns the affiliation with the given name.
// Unknown names are treated as none.
func ParseAffiliation(s string) Affiliation {
	for i, v := range affiliations {
		if v == s {
			return Affiliation(i)
		}
	}
	return AffiliationNone
}

// Role indicates a users role in the room.
type Role uint8

// A list of user roles.
const (
	RoleNone Role = iota

	// Support for these roles is required.
	RoleModerator
	RoleParticipant

	// Support for these roles is recommended, but optional.
	RoleVisitor
)

var roles = [...]string{
	RoleNone:        "none",
	RoleModerator:   "moderator",
	RoleParticipant: "participant",
	RoleVisitor:     "visitor",
}

func (r Role) String() string {
	if int(r) < len(roles) {
		return roles[r]
	}
	return "none"
}

// ParseRole returns the role with the given name.
// Unknown names are treated as none.
func ParseRole(s string) Role {
	for i, v := range roles {
		if v == s {
			return Role(i)
		}
	}
	return RoleNone
}
