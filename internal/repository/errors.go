package repository

import "errors"

// ErrNotFound is wrapped by every lookup that matched no record, so callers
// can distinguish "absent" from a storage failure without string matching.
var ErrNotFound = errors.New("not found")
