package server

import "strings"

// RoutePrefixer carries the configured base path under which the whole
// site is served and joins it onto route tails.
type RoutePrefixer struct {
	prefix string
}

// NewRoutePrefixer normalizes basePath by stripping one leading and one
// trailing slash, so "/docs/" and "docs" configure the same prefix.
func NewRoutePrefixer(basePath string) RoutePrefixer {
	p := strings.TrimPrefix(basePath, "/")
	p = strings.TrimSuffix(p, "/")
	return RoutePrefixer{prefix: p}
}

// Prefix returns the normalized prefix (no leading or trailing slash,
// empty when the site is served from the root).
func (p RoutePrefixer) Prefix() string {
	return p.prefix
}

// Join returns "/" + prefix + "/" + tail with double slashes collapsed.
// The leading slash is reattached here, at the wire boundary.
func (p RoutePrefixer) Join(tail string) string {
	joined := "/" + p.prefix + "/" + tail
	for strings.Contains(joined, "//") {
		joined = strings.ReplaceAll(joined, "//", "/")
	}
	return joined
}
