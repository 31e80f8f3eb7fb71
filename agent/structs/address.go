// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyAddress is returned when parsing an empty address string.
	ErrEmptyAddress = errors.New("address is empty")

	// ErrInvalidAddress is returned when an address string cannot be split
	// into its local, domain and resource parts.
	ErrInvalidAddress = errors.New("invalid address")
)

// Address identifies a user, a server or a component. It is the
// "local@domain/resource" triple of the protocol where only the domain part is
// mandatory. An Address is a value type and can be used as a map key; the
// zero value is the empty address.
type Address struct {
	Local    string
	Domain   string
	Resource string
}

// ParseAddress splits s into its parts. The domain is lower-cased, the local
// part and resource are kept as given.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, ErrEmptyAddress
	}

	var a Address
	rest := s
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		a.Resource = rest[i+1:]
		rest = rest[:i]
		if a.Resource == "" {
			return Address{}, fmt.Errorf("%w %q: empty resource", ErrInvalidAddress, s)
		}
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		a.Local = rest[:i]
		rest = rest[i+1:]
		if a.Local == "" {
			return Address{}, fmt.Errorf("%w %q: empty local part", ErrInvalidAddress, s)
		}
	}
	if rest == "" {
		return Address{}, fmt.Errorf("%w %q: empty domain", ErrInvalidAddress, s)
	}
	if strings.ContainsAny(rest, "@/ ") {
		return Address{}, fmt.Errorf("%w %q: malformed domain", ErrInvalidAddress, s)
	}
	a.Domain = strings.ToLower(rest)
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error. It is intended
// for tests and static initialization.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Bare returns the address without its resource.
func (a Address) Bare() Address {
	return Address{Local: a.Local, Domain: a.Domain}
}

// WithResource returns a copy of the address carrying the given resource.
func (a Address) WithResource(resource string) Address {
	a.Resource = resource
	return a
}

// DomainAddress returns the address of the domain alone.
func (a Address) DomainAddress() Address {
	return Address{Domain: a.Domain}
}

func (a Address) HasResource() bool { return a.Resource != "" }
func (a Address) HasLocal() bool    { return a.Local != "" }
func (a Address) IsZero() bool      { return a == Address{} }

// IsBare reports whether the address has no resource.
func (a Address) IsBare() bool { return !a.HasResource() }

// IsSubdomainOf reports whether the address domain is a strict sub-domain of
// domain, for example "conference.example.org" of "example.org".
func (a Address) IsSubdomainOf(domain string) bool {
	domain = strings.ToLower(domain)
	if domain == "" || len(a.Domain) <= len(domain)+1 {
		return false
	}
	return strings.HasSuffix(a.Domain, "."+domain)
}

func (a Address) String() string {
	var b strings.Builder
	if a.Local != "" {
		b.WriteString(a.Local)
		b.WriteByte('@')
	}
	b.WriteString(a.Domain)
	if a.Resource != "" {
		b.WriteByte('/')
		b.WriteString(a.Resource)
	}
	return b.String()
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
