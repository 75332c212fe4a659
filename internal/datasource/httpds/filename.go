package httpds

import (
	"fmt"
	"net/url"
	"path"
	"regexp"

	"github.com/zeebo/xxh3"
)

// filenameCleaner replaces sequences of non-alphanumeric characters with "_".
var filenameCleaner = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// HashString returns a stable xxh3 hex digest of s.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(s))
}

// SafeFilenameFromURL derives a filesystem-safe name for a remote object,
// used when a remote source is spooled to local disk.
//
// The result is the cleaned last path segment (the object key's base name)
// followed by "_" and the first 8 hex digits of the URL hash, so presigned
// URLs for the same key with different signatures do not collide. When the
// URL cannot be parsed or has no usable path, the full hash is returned.
func SafeFilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HashString(rawURL)
	}
	base := filenameCleaner.ReplaceAllString(path.Base(u.Path), "_")
	if base == "" || base == "_" {
		return HashString(rawURL)
	}
	return base + "_" + HashString(rawURL)[:8]
}
