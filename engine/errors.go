package engine

import (
	"fmt"

	errors "github.com/goliatone/go-errors"
)

// Error categories raised by the persistence layer and the packages built on
// top of it.
const (
	CategoryDatabase      errors.Category = "database"
	CategoryTransaction   errors.Category = "transaction"
	CategoryConfiguration errors.Category = "configuration"
)

// ErrSessionClosed is returned by every operation on a closed session.
var ErrSessionClosed = errors.New("session is closed", CategoryTransaction)

// ConfigurationError builds a fatal configuration error.
func ConfigurationError(format string, args ...any) error {
	return errors.New(fmt.Sprintf(format, args...), CategoryConfiguration)
}

// wrapConfiguration reports err as a configuration error regardless of the
// category err already carries.
func wrapConfiguration(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	e := errors.New(fmt.Sprintf(format, args...), CategoryConfiguration)
	e.Source = err
	return e
}

// wrapDatabase wraps a statement failure keeping the cause reachable through
// errors.Is and errors.As. A nil err stays nil.
func wrapDatabase(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, CategoryDatabase, fmt.Sprintf(format, args...))
}

// IsConfigurationError reports whether err carries the configuration category.
func IsConfigurationError(err error) bool {
	return errors.HasCategory(err, CategoryConfiguration)
}

// IsDatabaseError reports whether err carries the database category.
func IsDatabaseError(err error) bool {
	return errors.HasCategory(err, CategoryDatabase)
}
