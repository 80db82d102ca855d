// pkg/can/errors.go
package can

import "errors"

// Error kinds shared by the codec, the adapters and the connection.
// Wrap them with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrValidation marks caller mistakes: bad frame ids, oversize payloads, bad config.
	ErrValidation = errors.New("validation error")

	// ErrDeviceTimeout is the expected result of a receive that saw no traffic.
	ErrDeviceTimeout = errors.New("device timeout")

	// ErrTransport marks malformed responses and exhausted retries.
	ErrTransport = errors.New("transport error")

	// ErrInitialization marks transports that failed to open or configure,
	// and operations attempted on a disconnected connection.
	ErrInitialization = errors.New("initialization error")

	// ErrLookup marks unknown adapter names and unknown parameter ids or names.
	ErrLookup = errors.New("lookup error")

	// ErrUnsupported marks encodings this version does not implement.
	ErrUnsupported = errors.New("unsupported")
)
