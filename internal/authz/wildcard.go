// Package authz implements the authorization decision engine: resource
// pattern matching, the permit/deny evaluation over cached policy sets and
// the HTTP guard that consumes it.
package authz

import "strings"

const wildcardSuffix = "/*"

// Normalize canonicalises a request path: ensures a leading slash, strips
// the query string and fragment, and removes a single trailing slash
// (the root path stays "/").
func Normalize(url string) string {
	if url == "" {
		return "/"
	}
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url = url[:i]
	}
	if !strings.HasPrefix(url, "/") {
		url = "/" + url
	}
	if len(url) > 1 && strings.HasSuffix(url, "/") {
		url = url[:len(url)-1]
	}
	return url
}

// IsWildcard reports whether the resource pattern ends in "/*".
func IsWildcard(resource string) bool {
	return strings.HasSuffix(resource, wildcardSuffix)
}

// BaseOf returns the resource pattern with a trailing "/*" removed.
func BaseOf(resource string) string {
	return strings.TrimSuffix(resource, wildcardSuffix)
}

// Matches evaluates a resource pattern against a normalized url. Exact
// patterns require string equality; wildcard patterns match their base and
// any path below it. A policy on /api/v1/x never matches /api/v1/x/y
// unless a separate /api/v1/x/* policy exists.
func Matches(resource, url string) bool {
	if !IsWildcard(resource) {
		return resource == url
	}
	base := BaseOf(resource)
	return url == base || strings.HasPrefix(url, base+"/")
}

// CandidateWildcards generates every prefix-wildcard form of url from most
// specific to least specific, e.g. /api/v1/usuarios/42 yields
// /api/v1/usuarios/*, /api/v1/*, /api/* and /*. Used for bulk lookups that
// probe all wildcard variants in a single query.
func CandidateWildcards(url string) []string {
	url = Normalize(url)
	if url == "/" {
		return []string{wildcardSuffix}
	}
	segments := strings.Split(strings.TrimPrefix(url, "/"), "/")
	variants := make([]string, 0, len(segments))
	for i := len(segments) - 1; i >= 1; i-- {
		variants = append(variants, "/"+strings.Join(segments[:i], "/")+wildcardSuffix)
	}
	variants = append(variants, wildcardSuffix)
	return variants
}
