package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.groupwatch/sessions,
// so the character set stays filesystem-safe.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that a session name is usable as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: lowercase letters, digits, - and _ only (max 64)", name)
	}
	return nil
}
