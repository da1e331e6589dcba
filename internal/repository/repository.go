package repository

import "errors"

// ErrNoRowsUpdated signals that a mutation matched no rows.
var ErrNoRowsUpdated = errors.New("no rows updated")
