package providers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nexcrm/mailgate/pkg/types"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether the address has a plausible user@domain.tld shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidateSettings checks that both legs of an account's settings are
// structurally complete. It returns every problem found, not just the first.
func ValidateSettings(s types.AccountSettings) []error {
	var errs []error
	errs = append(errs, validateLeg("imap", s.Incoming)...)
	errs = append(errs, validateLeg("smtp", s.Outgoing)...)
	return errs
}

func validateLeg(leg string, s types.ServerSettings) []error {
	var errs []error
	if strings.TrimSpace(s.Server) == "" {
		errs = append(errs, fmt.Errorf("%s: server is required", leg))
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("%s: port must be between 1 and 65535", leg))
	}
	if strings.TrimSpace(s.Username) == "" {
		errs = append(errs, fmt.Errorf("%s: username is required", leg))
	}
	if strings.TrimSpace(s.Password) == "" {
		errs = append(errs, fmt.Errorf("%s: password is required", leg))
	}
	return errs
}
