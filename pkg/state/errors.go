package state

import "errors"

var (
	// ErrNotFound is returned when a world document does not exist.
	ErrNotFound = errors.New("state document not found")

	// ErrInstanceNotFound is returned when a $remove or $update targets an
	// instance_id that is not in the list. Under the document lock this is
	// how a lost race surfaces (e.g. two players collecting the same item).
	ErrInstanceNotFound = errors.New("instance not found")
)
