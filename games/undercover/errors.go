/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package undercover

import "errors"

var (
	// ErrInvalidState means the operation is not legal in the session's
	// current state (voting before the vote phase, joining mid-game, etc).
	ErrInvalidState = errors.New("operation not valid in current game state")

	// ErrUnknownParticipant means the referenced participant is not part of
	// the session, or is already eliminated where a living one is required.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrDuplicateAction means the participant already performed this
	// once-per-round action (already joined, already voted).
	ErrDuplicateAction = errors.New("action already performed")

	// ErrPrecondition means the operation's requirements are not met: too
	// few players, an empty word list, or inconsistent manual role counts.
	ErrPrecondition = errors.New("precondition not met")

	// ErrNotFound means no session or pending guess exists for the given id.
	ErrNotFound = errors.New("not found")
)
