// Package origin decides which window origins a block may trust.
//
// Ownership boundary:
// - whitelist pattern normalization
// - per-pattern acceptance rules
// - the pure trust predicate used at handshake and close time
package origin

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// LegacyPattern is the one whitelist entry that additionally requires the
// literal LegacySubdomain label in front of the host.
const (
	LegacyPattern   = "exacttarget.com"
	LegacySubdomain = "mc"
)

var ErrInvalidPattern = errors.New("origin: invalid whitelist pattern")

// DefaultPatterns is used when a block is configured without a whitelist.
func DefaultPatterns() []string {
	return []string{
		"exacttarget.com",
		"marketingcloudapps.com",
		"blocktester.herokuapp.com",
	}
}

// Whitelist is the trust configuration for one channel.
type Whitelist struct {
	Patterns    []string
	SSLOptional bool
}

// Validator holds the compiled acceptance rules for a whitelist.
type Validator struct {
	rules []*regexp.Regexp
}

// Compile builds one anchored, case-insensitive rule per pattern.
func Compile(wl Whitelist) (*Validator, error) {
	v := &Validator{rules: make([]*regexp.Regexp, 0, len(wl.Patterns))}
	for i, raw := range wl.Patterns {
		pattern, err := NormalizePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("pattern[%d]: %w", i, err)
		}
		rule, err := regexp.Compile(ruleSource(pattern, wl.SSLOptional))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, raw, err)
		}
		v.rules = append(v.rules, rule)
	}
	return v, nil
}

// MustCompile is Compile for statically known whitelists.
func MustCompile(wl Whitelist) *Validator {
	v, err := Compile(wl)
	if err != nil {
		panic(err)
	}
	return v
}

// Allow reports whether any rule accepts origin. A nil or empty validator
// trusts nothing.
func (v *Validator) Allow(origin string) bool {
	if v == nil {
		return false
	}
	for _, rule := range v.rules {
		if rule.MatchString(origin) {
			return true
		}
	}
	return false
}

// Validate is the one-shot form of Compile followed by Allow. Invalid
// patterns never match.
func Validate(origin string, patterns []string, sslOptional bool) bool {
	for _, raw := range patterns {
		pattern, err := NormalizePattern(raw)
		if err != nil {
			continue
		}
		rule, err := regexp.Compile(ruleSource(pattern, sslOptional))
		if err != nil {
			continue
		}
		if rule.MatchString(origin) {
			return true
		}
	}
	return false
}

// NormalizePattern lowercases a domain pattern and accepts the
// regex-escaped spelling ("exacttarget\.com") older configs used.
func NormalizePattern(raw string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(raw))
	p = strings.ReplaceAll(p, `\.`, ".")
	p = strings.Trim(p, ".")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPattern, raw)
		}
	}
	if strings.Contains(p, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, raw)
	}
	return p, nil
}

func ruleSource(pattern string, sslOptional bool) string {
	var b strings.Builder
	b.WriteString(`(?i)^https`)
	if sslOptional {
		b.WriteString(`?`)
	}
	b.WriteString(`://`)
	if pattern == LegacyPattern {
		b.WriteString(regexp.QuoteMeta(LegacySubdomain + "."))
	}
	b.WriteString(`([a-z0-9-]+\.)*`)
	b.WriteString(regexp.QuoteMeta(pattern))
	b.WriteString(`(:[0-9]+)?$`)
	return b.String()
}
