package sentinel

import "errors"

// Sentinel errors for storage and infrastructure facts. Stores and lockers return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: a uniqueness key is already taken (e.g. retention policy category+purpose)
//   - ErrLocked: another actor holds the per-subject lock
//   - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrLocked      = errors.New("locked")
	ErrUnavailable = errors.New("unavailable")
)
