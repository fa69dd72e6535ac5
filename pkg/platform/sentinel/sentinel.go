package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, lockers and transport
// clients return these (optionally wrapped) so the runtime and the cascade
// can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in a store
//   - ErrConflict: write collides with an existing record or a held lock
//   - ErrUnavailable: backing service unreachable
//   - ErrClosed: store used after Close
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrClosed      = errors.New("closed")
)
