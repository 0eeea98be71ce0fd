package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrStorageUnavailable) {
//	    // the backend could not complete the operation
//	}
//
// A missing device is not an error: lookups return found == false.
var (
	// ErrStorageUnavailable is returned when a durable store cannot complete
	// an operation. The in-memory store never returns it.
	ErrStorageUnavailable = errors.New("device: storage unavailable")

	// ErrPartialToolchainConfig is returned in strict mode when exactly one of
	// board_type and project_path is supplied.
	ErrPartialToolchainConfig = errors.New("device: board_type and project_path must be supplied together")
)
