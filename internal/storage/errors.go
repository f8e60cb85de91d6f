package storage

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrCurrentFactExists is returned when an insert would create a second
// current fact in a slot. It signals a lost race, not a fatal failure.
var ErrCurrentFactExists = errors.New("storage: slot already has a current fact")

// ErrFactNotCurrent is returned when retiring a fact that was already
// retired or that does not belong to the expected slot.
var ErrFactNotCurrent = errors.New("storage: fact is not current")

// ErrDuplicateKey is returned when an entity's canonical key is already taken.
var ErrDuplicateKey = errors.New("storage: canonical key already registered")
