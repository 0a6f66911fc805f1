package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when an insert would duplicate an existing
// record, such as blocking an IP that is already blocked.
var ErrAlreadyExists = errors.New("record already exists")
