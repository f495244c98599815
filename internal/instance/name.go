// Package instance validates the names that namespace stored runs.
package instance

import (
	"fmt"
	"regexp"
)

// MaxNameLength bounds an instance name so Redis keys stay readable.
const MaxNameLength = 63

// NamePattern allows lowercase letters, digits and inner hyphens.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateName reports whether name can be used as a run-store namespace.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}
	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}
