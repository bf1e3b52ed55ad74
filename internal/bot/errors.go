package bot

import "errors"

// ErrWaitingRoomTimeout reports that the join signal never appeared within
// the waiting-room bound. Distinct from a generic driver failure so
// callers can apply a different retry policy to "the meeting never let us
// in" than to a broken automation.
var ErrWaitingRoomTimeout = errors.New("join signal did not appear within waiting room timeout")
