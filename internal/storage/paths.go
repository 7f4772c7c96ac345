package storage

import (
	"path"
	"strings"
)

// prefixer holds a backend base prefix and knows how to apply it once.
// Slash-separated backends (SharePoint drive paths, GCS object names) embed it.
type prefixer struct {
	base string
}

func newPrefixer(base string) prefixer {
	return prefixer{base: cleanSlashPath(base)}
}

// qualify joins parts under the base prefix.
func (p prefixer) qualify(parts ...string) string {
	return joinSlash(append([]string{p.base}, parts...)...)
}

// RelPath is the identity for drive- and bucket-relative paths.
func (p prefixer) RelPath(fullPath string) string {
	return cleanSlashPath(fullPath)
}

// joinSlash joins non-empty parts with single slashes and no leading or
// trailing slash.
func joinSlash(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if cleaned := cleanSlashPath(part); cleaned != "" {
			segments = append(segments, cleaned)
		}
	}
	return strings.Join(segments, "/")
}

func cleanSlashPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// splitParent returns the parent path and leaf name of a slash path.
func splitParent(p string) (string, string) {
	p = cleanSlashPath(p)
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}

// ancestors lists every proper ancestor of p, shallowest first.
func ancestors(p string) []string {
	p = cleanSlashPath(p)
	if p == "" {
		return nil
	}
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		out = append(out, strings.Join(segments[:i], "/"))
	}
	return out
}
