package fsguard

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnsafePath is returned when a resolved path escapes its root.
var ErrUnsafePath = errors.New("path escapes storage root")

// MaxFilenameLen caps sanitized filenames, in bytes.
const MaxFilenameLen = 128

var (
	jobIDRe      = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	disallowedRe = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
)

// SafeJoin resolves rel against root and verifies the result stays equal to
// or under root. Resolution is textual; any path that escapes via ".."
// segments or an absolute prefix is rejected regardless of what exists on
// disk. Every filesystem mutation derived from job inputs must pass through
// here first.
func SafeJoin(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	// An absolute rel is kept as-is so that it can only pass when it
	// already points inside the root.
	joined := rel
	if !filepath.IsAbs(rel) {
		joined = filepath.Join(absRoot, rel)
	}
	target, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if target != absRoot && !strings.HasPrefix(target, absRoot+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return target, nil
}

// SanitizeFilename reduces name to a safe basename: whitespace runs become
// underscores, characters outside [A-Za-z0-9_.-] are dropped, leading and
// trailing dots and underscores are stripped, and the result is truncated to
// MaxFilenameLen bytes. fallback is returned when nothing survives.
// The function is idempotent on its own output.
func SanitizeFilename(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = whitespaceRe.ReplaceAllString(name, "_")
	name = disallowedRe.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	if len(name) > MaxFilenameLen {
		name = strings.Trim(name[:MaxFilenameLen], "._")
	}
	if name == "" {
		return fallback
	}
	return name
}

// IsSafeJobID reports whether s is a well-formed job identifier.
func IsSafeJobID(s string) bool {
	return jobIDRe.MatchString(s)
}
