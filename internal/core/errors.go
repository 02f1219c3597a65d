package core

import "errors"

var (
	// ErrConfiguration is returned when no connection string or pool is configured.
	ErrConfiguration = errors.New("dataprovider: connection string is not configured")

	// ErrInvalidArgument is returned for a missing parameter collection or procedure name.
	ErrInvalidArgument = errors.New("dataprovider: invalid argument")

	// ErrNotImplemented is returned when identity context propagation is requested.
	ErrNotImplemented = errors.New("dataprovider: identity context is not implemented")

	// ErrUnknownDriver is returned when no dialect is registered for the configured driver.
	ErrUnknownDriver = errors.New("dataprovider: unknown driver")

	// ErrProcedureNotFound is returned when the procedure signature cannot be derived.
	ErrProcedureNotFound = errors.New("dataprovider: procedure not found")
)

// isFatal reports whether err belongs to the tier that is returned to the
// caller instead of being folded into the result message.
func isFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNotImplemented) ||
		errors.Is(err, ErrUnknownDriver)
}
