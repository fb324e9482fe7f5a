// Package filter restricts which recipients a batch may reach.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Options captures the recipient patterns. Allow and Deny are mutually exclusive.
type Options struct {
	Allow []string
	Deny  []string
}

// Policy holds compiled recipient patterns. Matching is case-insensitive.
type Policy struct {
	allowMode bool
	allow     []*regexp.Regexp
	deny      []*regexp.Regexp
}

// New creates a Policy from the provided options.
func New(opts Options) (*Policy, error) {
	allow, err := compilePatterns(opts.Allow)
	if err != nil {
		return nil, fmt.Errorf("compile allow pattern: %w", err)
	}
	deny, err := compilePatterns(opts.Deny)
	if err != nil {
		return nil, fmt.Errorf("compile deny pattern: %w", err)
	}
	if len(allow) > 0 && len(deny) > 0 {
		return nil, fmt.Errorf("allow and deny patterns are mutually exclusive")
	}

	return &Policy{
		allowMode: len(allow) > 0,
		allow:     allow,
		deny:      deny,
	}, nil
}

// Active reports whether any pattern is configured.
func (p *Policy) Active() bool {
	return p != nil && (len(p.allow) > 0 || len(p.deny) > 0)
}

// Allows reports whether addr may receive mail.
func (p *Policy) Allows(addr string) bool {
	if p == nil {
		return true
	}
	if p.allowMode {
		return matchAny(p.allow, addr)
	}
	return !matchAny(p.deny, addr)
}

// Apply splits addrs into permitted and rejected recipients, keeping order.
func (p *Policy) Apply(addrs []string) (kept, dropped []string) {
	kept = make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if p.Allows(addr) {
			kept = append(kept, addr)
		} else {
			dropped = append(dropped, addr)
		}
	}
	return kept, dropped
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
