package store

import "errors"

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrNoAssignments = errors.New("node has no active sensor assignments")
)
