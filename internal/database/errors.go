package database

import "errors"

// ErrSchemaMismatch is returned when a database file does not contain the
// tables this application expects. It is fatal: the file is either from a
// different application or from an incompatible version.
var ErrSchemaMismatch = errors.New("schema mismatch")
