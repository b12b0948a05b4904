package broadcast

import (
	"errors"
	"fmt"
)

// Sentinel errors for the delivery engine. Callers branch with errors.Is;
// the wrapped cause stays reachable through errors.Unwrap.
var (
	// ErrAudienceResolution means the subscriber query could not complete.
	// Retryable: nothing was sent and no broadcast state was advanced.
	ErrAudienceResolution = errors.New("audience resolution failed")

	// ErrComposition means the moment cannot be turned into a message
	// (blank body, unrecoverable slug persistence). Not retryable; the
	// content needs fixing first.
	ErrComposition = errors.New("message composition failed")

	// ErrDuplicateBroadcast means another broadcast for the same moment is
	// already processing or completed and this trigger was suppressed.
	// Informational, not a failure.
	ErrDuplicateBroadcast = errors.New("duplicate broadcast suppressed")

	// ErrPersistence means a broadcast/batch record write failed. The
	// affected batch is conservatively counted as fully failed.
	ErrPersistence = errors.New("broadcast persistence failed")

	// ErrNotFound means the requested moment or broadcast does not exist.
	ErrNotFound = errors.New("not found")
)

func resolutionError(cause error) error {
	return fmt.Errorf("%w: %v", ErrAudienceResolution, cause)
}

func compositionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrComposition, fmt.Sprintf(format, args...))
}

func persistenceError(cause error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, cause)
}
