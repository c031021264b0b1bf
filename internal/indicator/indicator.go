// Package indicator provides typed, validated observables for enrichment.
// An indicator is parsed once, normalized to a canonical string form, and
// that form is used as the cache and rate-limit key everywhere downstream.
package indicator

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Kind identifies the type of observable. The set is closed; a kind is
// fixed at parse time and never reinterpreted.
type Kind string

const (
	KindIP     Kind = "ip"
	KindDomain Kind = "domain"
	KindHash   Kind = "hash"
)

// ErrInvalidIndicator is returned when a value cannot be classified as any
// supported observable type.
var ErrInvalidIndicator = errors.New("invalid indicator")

// Indicator is a validated observable in canonical form.
type Indicator struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// Parse classifies and validates a raw value, returning it in canonical
// form. IPs are parsed with net/netip and re-rendered (collapsing IPv6
// forms), domains and hashes are lowercased.
func Parse(value string) (Indicator, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return Indicator{}, fmt.Errorf("%w: empty value", ErrInvalidIndicator)
	}

	if addr, err := netip.ParseAddr(v); err == nil {
		return Indicator{Kind: KindIP, Value: addr.String()}, nil
	}

	lower := strings.ToLower(v)
	if isHash(lower) {
		return Indicator{Kind: KindHash, Value: lower}, nil
	}
	if isDomain(lower) {
		return Indicator{Kind: KindDomain, Value: strings.TrimSuffix(lower, ".")}, nil
	}

	return Indicator{}, fmt.Errorf("%w: %q is not an IP, domain, or hash", ErrInvalidIndicator, value)
}

// Classify reports the kind a raw value would parse as. Unlike Parse it
// never fails; unrecognized values report an empty Kind.
func Classify(value string) Kind {
	ind, err := Parse(value)
	if err != nil {
		return ""
	}
	return ind.Kind
}

// Key returns the canonical composite key used for caching and rate
// limiting.
func (i Indicator) Key() string {
	return string(i.Kind) + ":" + i.Value
}

func (i Indicator) String() string {
	return i.Value
}

// isHash accepts MD5, SHA1 and SHA256 hex digests.
func isHash(v string) bool {
	switch len(v) {
	case 32, 40, 64:
	default:
		return false
	}
	for _, c := range v {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// isDomain applies basic hostname label rules: at least two labels,
// alphanumeric with interior hyphens, alphabetic TLD.
func isDomain(v string) bool {
	v = strings.TrimSuffix(v, ".")
	if len(v) == 0 || len(v) > 253 {
		return false
	}

	labels := strings.Split(v, ".")
	if len(labels) < 2 {
		return false
	}

	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
				return false
			}
		}
	}

	// TLD must not be numeric, otherwise "1.2" would classify as a domain.
	tld := labels[len(labels)-1]
	for _, c := range tld {
		if c >= '0' && c <= '9' {
			return false
		}
	}

	return true
}
