package store

import "errors"

// ErrNotFound is returned by lookups that find no matching row, including
// expired idempotency-key lookups per the "expired is absent" contract.
var ErrNotFound = errors.New("store: not found")
