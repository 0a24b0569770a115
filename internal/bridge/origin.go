package bridge

import (
	"strings"
)

// OriginPolicy is an allow-list of message origins. Patterns are either an
// exact origin ("https://form.jotform.com") or a single-level wildcard host
// ("https://*.jotform.io"). Anything not on the list is dropped silently,
// never defaulted to trusted.
type OriginPolicy struct {
	patterns []string
}

// NewOriginPolicy builds a policy from configured patterns.
func NewOriginPolicy(patterns []string) OriginPolicy {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(p)), "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return OriginPolicy{patterns: cleaned}
}

// Allowed reports whether the origin matches any pattern.
func (p OriginPolicy) Allowed(origin string) bool {
	origin = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
	if origin == "" {
		return false
	}
	for _, pat := range p.patterns {
		if matchOrigin(pat, origin) {
			return true
		}
	}
	return false
}

func matchOrigin(pattern, origin string) bool {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return pattern == origin
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	// The wildcard covers subdomain labels only: no path, port or userinfo
	// characters may hide inside it.
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return middle != "" && !strings.ContainsAny(middle, "/@:?")
}
