/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package undercover implements the Undercover (Mr. White) social-deduction
// word game: one secret word for the majority, a near-synonym for the
// undercover minority, and a wordless Mr. White who has to bluff. The package
// is pure game state; it never performs I/O and never blocks. Callers are
// expected to serialize access to a Session.
package undercover

// Role is a participant's faction, assigned once when the game starts.
type Role int

const (
	RoleNone Role = iota
	RoleCivilian
	RoleUndercover
	RoleMrWhite
)

func (r Role) String() string {
	switch r {
	case RoleCivilian:
		return "civilian"
	case RoleUndercover:
		return "undercover"
	case RoleMrWhite:
		return "mr_white"
	default:
		return "none"
	}
}

// State is the session's position in the game lifecycle.
type State int

const (
	StateWaiting State = iota
	StatePlaying
	StateVoting
	StateMrWhiteGuessing
	StateGameOver
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting_for_players"
	case StatePlaying:
		return "playing"
	case StateVoting:
		return "voting"
	case StateMrWhiteGuessing:
		return "mr_white_guessing"
	case StateGameOver:
		return "game_over"
	default:
		return "unknown"
	}
}
