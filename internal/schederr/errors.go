// Package schederr defines the error taxonomy (kinds, not types) the core
// surfaces across component boundaries: NotFound, InvalidRequest,
// IllegalStateTransition, and ShuttingDown. Callers use errors.Is against
// these sentinels; the HTTP layer maps them to status codes.
package schederr

import "errors"

var (
	// ErrNotFound marks an unknown or foreign-owned workflow/job. Never
	// mutates state before being returned.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest marks a malformed caller request (missing header,
	// bad body). Surfaced at the API boundary; never reaches the core.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrIllegalTransition marks a rejected state transition inside the
	// Store. A non-test caller seeing this indicates a core bug: the
	// mutation that attempted it is guaranteed atomic, so bookkeeping is
	// never left inconsistent by the rejection itself.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrShuttingDown is returned by operations invoked after Stop. No new
	// jobs are accepted once set.
	ErrShuttingDown = errors.New("scheduler is shutting down")
)
