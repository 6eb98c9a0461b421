package drive

import (
	"context"
	"time"
)

// Yielder lets a long-running background pass hand control back to the
// host between slices of work. The contract is "eventually resumes, does
// not block the caller beyond the hint"; implementations may back it with
// an event loop deferral, a low-priority worker, or a plain sleep.
type Yielder interface {
	// Yield pauses roughly for the hint, returning early with the context
	// error if the context is done.
	Yield(ctx context.Context, hint time.Duration) error
}

// SleepYielder yields by sleeping. The default for production use.
type SleepYielder struct{}

func (SleepYielder) Yield(ctx context.Context, hint time.Duration) error {
	if hint <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(hint)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NopYielder never pauses. Use in tests.
type NopYielder struct{}

func (NopYielder) Yield(ctx context.Context, _ time.Duration) error { return ctx.Err() }
