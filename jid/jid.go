// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements the XMPP address format (Jabber ID).
//
// Addresses are small immutable values: the zero value is the empty address
// and two addresses can be compared with Equal (or ==, since every part is
// stored in its canonical form).
package jid // import "mellium.im/keelsbot/jid"

import (
	"encoding/xml"
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// Errors returned while parsing or constructing addresses.
var (
	ErrInvalidUTF8    = errors.New("jid: address contains invalid UTF-8")
	ErrEmptyLocal     = errors.New("jid: the localpart must be larger than 0 bytes")
	ErrEmptyResource  = errors.New("jid: the resourcepart must be larger than 0 bytes")
	ErrDomainLength   = errors.New("jid: the domainpart must be between 1 and 1023 bytes")
	ErrPartLength     = errors.New("jid: parts must be smaller than 1024 bytes")
	ErrForbiddenLocal = errors.New("jid: localpart contains forbidden characters")
	ErrInvalidIP6     = errors.New("jid: domainpart is not a valid IPv6 address")
)

// JID represents an XMPP address comprising a localpart, domainpart, and
// resourcepart.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse constructs a new JID from the given string representation.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if the JID cannot be parsed.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(`jid: Parse(` + strconv.Quote(s) + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(domainpart) || !utf8.ValidString(resourcepart) {
		return JID{}, ErrInvalidUTF8
	}

	// RFC 7622 §3.2.1: A-labels are converted to U-labels before the domainpart
	// is used.
	var err error
	if !isIP6(domainpart) {
		domainpart, err = idna.ToUnicode(domainpart)
		if err != nil {
			return JID{}, err
		}
		domainpart = strings.ToLower(domainpart)
	}

	if localpart != "" {
		localpart, err = precis.UsernameCaseMapped.String(localpart)
		if err != nil {
			return JID{}, err
		}
	}
	if resourcepart != "" {
		resourcepart, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return JID{}, err
		}
	}

	if err := commonChecks(localpart, domainpart, resourcepart); err != nil {
		return JID{}, err
	}
	return JID{local: localpart, domain: domainpart, resource: resourcepart}, nil
}

// WithResource returns a copy of the JID with a new resourcepart.
// An empty resourcepart results in the bare JID.
func (j JID) WithResource(resourcepart string) (JID, error) {
	if resourcepart == "" {
		return j.Bare(), nil
	}
	if !utf8.ValidString(resourcepart) {
		return JID{}, ErrInvalidUTF8
	}
	r, err := precis.OpaqueString.String(resourcepart)
	if err != nil {
		return JID{}, err
	}
	if len(r) > 1023 {
		return JID{}, ErrPartLength
	}
	j.resource = r
	return j, nil
}

// Bare returns a copy of the JID without a resourcepart.
func (j JID) Bare() JID {
	j.resource = ""
	return j
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j JID) Domain() JID {
	return JID{domain: j.domain}
}

// Localpart gets the localpart of a JID (eg "username").
func (j JID) Localpart() string { return j.local }

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j JID) Domainpart() string { return j.domain }

// Resourcepart gets the resourcepart of a JID.
func (j JID) Resourcepart() string { return j.resource }

// IsZero reports whether j is the empty address.
func (j JID) IsZero() bool {
	return j == JID{}
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j JID) Equal(j2 JID) bool {
	return j == j2
}

// Network satisfies the net.Addr interface by returning the name of the network
// ("xmpp").
func (JID) Network() string {
	return "xmpp"
}

// String converts a JID to its string representation.
func (j JID) String() string {
	var b strings.Builder
	b.Grow(len(j.local) + len(j.domain) + len(j.resource) + 2)
	if j.local != "" {
		b.WriteString(j.local)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the JID
// as an XML attribute.
// The zero JID results in no attribute.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and unmarshals
// an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID. The parts are not guaranteed to be valid.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1: separators are matched before any transformation since
	// normalization could produce new '@' or '/' characters.
	if sep := strings.IndexByte(s, '/'); sep != -1 {
		if sep == len(s)-1 {
			return "", "", "", ErrEmptyResource
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	switch sep := strings.IndexByte(s, '@'); sep {
	case -1:
		domainpart = s
	case 0:
		return "", "", "", ErrEmptyLocal
	default:
		localpart = s[:sep]
		domainpart = s[sep+1:]
	}

	// A trailing label separator is stripped before any comparison.
	domainpart = strings.TrimSuffix(domainpart, ".")
	return localpart, domainpart, resourcepart, nil
}

func isIP6(domainpart string) bool {
	return len(domainpart) > 2 && domainpart[0] == '[' && domainpart[len(domainpart)-1] == ']'
}

func commonChecks(localpart, domainpart, resourcepart string) error {
	if len(localpart) > 1023 || len(resourcepart) > 1023 {
		return ErrPartLength
	}

	// RFC 7622 §3.3.1 lists characters the UsernameCaseMapped profile allows
	// but XMPP localparts do not.
	if strings.ContainsAny(localpart, `"&'/:<>@`) {
		return ErrForbiddenLocal
	}

	if l := len(domainpart); l < 1 || l > 1023 {
		return ErrDomainLength
	}

	if isIP6(domainpart) {
		ip := net.ParseIP(domainpart[1 : len(domainpart)-1])
		if ip == nil || ip.To4() != nil {
			return ErrInvalidIP6
		}
	}
	return nil
}
