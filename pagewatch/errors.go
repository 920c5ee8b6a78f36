package pagewatch

import (
	"errors"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/scheduler"
)

var (
	ErrUnknownTask = errors.New("pagewatch: unknown task")
	ErrNotBlocked  = errors.New("pagewatch: task is not blocked")
	ErrNotRunning  = errors.New("pagewatch: engine is not running")

	// ErrNotSchedulable is returned when a check is requested for a
	// blocked or disabled task.
	ErrNotSchedulable = errors.New("pagewatch: task is blocked or disabled")

	// ErrLegacyScript wraps failures to load the external task script.
	ErrLegacyScript = errors.New("pagewatch: external task script failed")
)

// translate maps internal sentinels onto the exported ones.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduler.ErrUnknownTask):
		return ErrUnknownTask
	case errors.Is(err, scheduler.ErrNotBlocked):
		return ErrNotBlocked
	case errors.Is(err, scheduler.ErrNotSchedulable):
		return ErrNotSchedulable
	case errors.Is(err, scheduler.ErrNotRunning):
		return ErrNotRunning
	default:
		return err
	}
}
