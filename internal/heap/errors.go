package heap

import "github.com/pkg/errors"

// ErrObjectTooLarge is returned when a requested allocation exceeds
// MaxHeapObjSize by so much that even the huge path refuses it.
var ErrObjectTooLarge = errors.New("heap: object exceeds configured size limit")

// ErrInvalidID is returned when an objid.ID does not resolve to a live
// slot in any pool known to this heap (a stale id from a prior cycle,
// or one from a different instance entirely).
var ErrInvalidID = errors.New("heap: object id does not resolve to a live object")
