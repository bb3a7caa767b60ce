package contexts

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultContext is the permanent context created on first open. It can be
// cleared but never deleted or renamed.
const DefaultContext = "default"

// maxNameLength bounds context names so they stay valid directory names on
// every filesystem we run on.
const maxNameLength = 128

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NormalizeName canonicalises a user-supplied context name: surrounding
// whitespace is trimmed, the name is lower-cased and inner spaces become
// underscores. The result must be non-empty and consist only of letters,
// digits, '_' and '-'.
func NormalizeName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	if n == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if len(n) > maxNameLength {
		return "", fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, n, maxNameLength)
	}
	if !validName.MatchString(n) {
		return "", fmt.Errorf("%w: %q may only contain letters, digits, '_' and '-'", ErrInvalidName, name)
	}
	return n, nil
}
