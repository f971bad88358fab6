package moderation

import (
	"errors"
	"fmt"

	"github.com/robalyx/warden/internal/database/types"
)

var (
	// ErrNotFound is returned for operations on unknown warning or punishment IDs.
	ErrNotFound = types.ErrNotFound
	// ErrEnforcementFailed is returned when a platform action did not take effect.
	ErrEnforcementFailed = errors.New("enforcement failed")
	// ErrEnforcementTimeout is returned when a platform action did not finish in time.
	ErrEnforcementTimeout = fmt.Errorf("%w: timeout", ErrEnforcementFailed)
	// ErrDuplicateSuppressed marks a trigger that was dropped as a duplicate.
	// It is only used for logging and metrics and never returned to callers.
	ErrDuplicateSuppressed = errors.New("duplicate trigger suppressed")
	// ErrInvalidRequest is returned for malformed manual actions.
	ErrInvalidRequest = errors.New("invalid request")
)
