// Package address validates and deduplicates mail address candidates.
package address

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// Parse returns the canonical bare address for candidate. Malformed or empty
// input yields ok == false rather than an error.
func Parse(candidate string) (string, bool) {
	addr, ok := ParseFull(candidate)
	if !ok {
		return "", false
	}
	return addr.Address, true
}

// ParseFull is Parse but keeps the display name.
func ParseFull(candidate string) (*mail.Address, bool) {
	text := strings.TrimSpace(candidate)
	if text == "" {
		return nil, false
	}
	addr, err := mail.ParseAddress(text)
	if err != nil || addr == nil || addr.Address == "" {
		return nil, false
	}
	return addr, true
}

// ParseAll parses every candidate and returns the distinct valid addresses.
// Invalid entries are dropped.
func ParseAll(candidates ...string) Set {
	set, _ := ParseAllReport(candidates...)
	return set
}

// ParseAllReport is ParseAll but also returns the rejected candidates in input order.
func ParseAllReport(candidates ...string) (Set, []string) {
	var (
		set      Set
		rejected []string
	)
	for _, candidate := range candidates {
		addr, ok := Parse(candidate)
		if !ok {
			rejected = append(rejected, candidate)
			continue
		}
		set.Add(addr)
	}
	return set, rejected
}

// Set is an insertion ordered set of canonical addresses. The zero value is empty and ready for use.
type Set struct {
	order []string
	index map[string]struct{}
}

// Add inserts addr if it is not present yet and reports whether it was added.
// Callers are expected to pass canonical addresses.
func (s *Set) Add(addr string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, exists := s.index[addr]; exists {
		return false
	}
	s.index[addr] = struct{}{}
	s.order = append(s.order, addr)
	return true
}

func (s Set) Contains(addr string) bool {
	_, ok := s.index[addr]
	return ok
}

func (s Set) Len() int {
	return len(s.order)
}

// Values returns a copy of the members in insertion order.
func (s Set) Values() []string {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Equal reports whether both sets hold the same members, ignoring order.
func (s Set) Equal(other Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, addr := range s.order {
		if !other.Contains(addr) {
			return false
		}
	}
	return true
}

// Union returns a new set with the members of s followed by the new members of others.
func (s Set) Union(others ...Set) Set {
	var out Set
	for _, addr := range s.order {
		out.Add(addr)
	}
	for _, other := range others {
		for _, addr := range other.order {
			out.Add(addr)
		}
	}
	return out
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	return s.Union()
}
