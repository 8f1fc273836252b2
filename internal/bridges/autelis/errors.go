package autelis

import "errors"

// Domain errors for the Autelis bridge package.
var (
	// ErrConnectivity is returned when the appliance cannot be reached or
	// rejects the configured credentials.
	ErrConnectivity = errors.New("autelis: appliance unreachable")

	// ErrProtocol is returned when an appliance response cannot be parsed
	// into the expected shape.
	ErrProtocol = errors.New("autelis: unexpected appliance response")

	// ErrUnsupportedCommand is returned when a command does not match the
	// capability of the target node.
	ErrUnsupportedCommand = errors.New("autelis: unsupported command")

	// ErrInvalidParameters is returned when a command is missing a value it needs.
	ErrInvalidParameters = errors.New("autelis: invalid command parameters")

	// ErrCommandTimeout is delivered to the issuer when no poll confirmed a
	// dispatched command within the command timeout.
	ErrCommandTimeout = errors.New("autelis: command not confirmed")

	// ErrNodeNotFound is returned for identifiers the catalog does not know
	// or the appliance has not reported yet.
	ErrNodeNotFound = errors.New("autelis: node not found")

	// ErrStopped is delivered to pending commands abandoned at shutdown.
	ErrStopped = errors.New("autelis: engine stopped")

	// ErrNotRunning is returned when a command is submitted before Start
	// or after Stop.
	ErrNotRunning = errors.New("autelis: engine not running")
)
