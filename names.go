package credhub

import (
	"fmt"
	"strings"
)

// NormalizeName validates a credential name and gives it a leading separator.
// Casing is preserved; use FoldName for comparisons.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == NameSeparator {
		return "", fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if !strings.HasPrefix(name, NameSeparator) {
		name = NameSeparator + name
	}
	switch {
	case len(name) > MaxNameLength:
		return "", fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidName, MaxNameLength)
	case strings.Contains(name, "//"):
		return "", fmt.Errorf("%w: %q contains an empty path segment", ErrInvalidName, name)
	case strings.HasSuffix(name, NameSeparator):
		return "", fmt.Errorf("%w: %q ends with a separator", ErrInvalidName, name)
	}
	return name, nil
}

// FoldName returns the case-insensitive comparison key of a name.
func FoldName(name string) string {
	return strings.ToLower(name)
}

// containsQuery builds the search for names containing term anywhere.
func containsQuery(term string) NameQuery {
	return NameQuery{Substring: FoldName(strings.TrimSpace(term))}
}

// pathQuery builds the search for names under path. A separator is added on
// both ends so "/app" matches "/app/db" but not "/application".
func pathQuery(path string) NameQuery {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, NameSeparator) {
		path = NameSeparator + path
	}
	if !strings.HasSuffix(path, NameSeparator) {
		path += NameSeparator
	}
	return NameQuery{Prefix: FoldName(path)}
}

// matchesQuery is the reference semantics of NameQuery over a folded name.
func matchesQuery(folded string, q NameQuery) bool {
	if q.Substring != "" && strings.Contains(folded, q.Substring) {
		return true
	}
	return q.Prefix != "" && strings.HasPrefix(folded, q.Prefix)
}

// parentPaths lists every proper path prefix of a name, each ending in a separator.
func parentPaths(name string) []string {
	var paths []string
	for i := 1; i < len(name); i++ {
		if name[i] == '/' {
			paths = append(paths, name[:i+1])
		}
	}
	return paths
}
