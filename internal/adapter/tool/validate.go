package tool

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"mcpchat/internal/domain"
)

// invalidf formats a validation-class error.
func invalidf(format string, args ...any) error {
	return domain.Invalid(fmt.Errorf(format, args...))
}

// RequireField returns an error if value is empty or blank.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidf("'%s' is required", name)
	}
	return nil
}

// ValidateEnum checks that value is one of allowed. An empty value passes.
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" || slices.Contains(allowed, value) {
		return nil
	}
	return invalidf("invalid %s %q (want: %s)", name, value, strings.Join(allowed, ", "))
}

// ValidateMaxLength checks that value does not exceed max bytes.
func ValidateMaxLength(name, value string, max int) error {
	if len(value) > max {
		return invalidf("%s exceeds maximum length of %d", name, max)
	}
	return nil
}

// ValidateURL checks that value is an absolute HTTP(S) URL. An empty value
// passes.
func ValidateURL(name, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return invalidf("invalid %s: %s", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidf("invalid %s: scheme must be http or https", name)
	}
	if u.Host == "" {
		return invalidf("invalid %s: missing host", name)
	}
	return nil
}

// ValidateAll returns the first non-nil error.
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
