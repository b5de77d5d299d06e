// Package domain maps host names to the addresses they are reached at.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

var ErrDomainNotFound = errors.New("domain not found")

type Lookuper interface {
	Lookup(domain string) (addr string, err error)
}

// MapLookuper resolves from a fixed set of entries. Domains are matched
// case-insensitively.
type MapLookuper struct {
	set map[string]string
}

var _ Lookuper = (*MapLookuper)(nil)

func NewMapLookuper(set map[string]string) *MapLookuper {
	m := &MapLookuper{set: make(map[string]string, len(set))}
	for domain, addr := range set {
		m.Set(domain, addr)
	}
	return m
}

// ParseEntries builds a lookuper from "domain:addr" entries.
// addr may itself contain colons, as IPv6 addresses do.
func ParseEntries(entries []string) (*MapLookuper, error) {
	m := NewMapLookuper(nil)
	for _, entry := range entries {
		domain, addr, ok := strings.Cut(entry, ":")
		if !ok || domain == "" || addr == "" {
			return nil, errors.Errorf("invalid entry %q, want domain:addr", entry)
		}
		m.Set(domain, addr)
	}
	return m, nil
}

func (m *MapLookuper) Lookup(domain string) (string, error) {
	addr, ok := m.set[strings.ToLower(domain)]
	if !ok {
		return "", ErrDomainNotFound
	}
	return addr, nil
}

func (m *MapLookuper) Set(domain, addr string) {
	if addr == "" {
		return
	}
	m.set[strings.ToLower(domain)] = addr
}

func (m *MapLookuper) Del(domain string) { delete(m.set, strings.ToLower(domain)) }
