// Package options defines the generic options interface and common utilities.
package options

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"
)

// Join concatenates prefixes with "." separator.
// If the result is non-empty, it appends a trailing ".".
// This is used to build flag names like "qdrant.host" or "prefix.qdrant.host".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// IOptions defines methods to implement a generic options.
type IOptions interface {
	// Validate validates all the required options.
	Validate() []error

	// AddFlags adds flags related to given flagset.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAll runs Validate on every option set and joins the errors.
func ValidateAll(opts ...IOptions) error {
	var errs []error
	for _, o := range opts {
		errs = append(errs, o.Validate()...)
	}
	return errors.Join(errs...)
}
