/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package undercover

// Participant is one player's mutable state within a single session. It is
// owned by its Session and never shared across sessions.
type Participant struct {
	ID        string
	Username  string
	FirstName string

	Role Role
	Word string // set for civilians and undercovers, empty for Mr. White

	HasSpoken   bool
	HasVoted    bool
	VoteTarget  string
	Eliminated  bool
	Description string // this round's clue, cleared between rounds
}

// DisplayName returns the best available name for rendering.
func (p *Participant) DisplayName() string {
	if p.Username != "" {
		return "@" + p.Username
	}

	return p.FirstName
}
