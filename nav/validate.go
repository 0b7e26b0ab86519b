package nav

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPathLength bounds accepted navigation paths.
const MaxPathLength = 512

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path must not be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q must start with /", path)
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("path exceeds maximum length of %d", MaxPathLength)
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("path contains invalid UTF-8")
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("path contains control character")
		}
		if unicode.IsSpace(r) {
			return fmt.Errorf("path contains whitespace")
		}
	}
	return nil
}
