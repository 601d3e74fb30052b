/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package undercover

import "fmt"

// Tiebreak selects how a tied vote is resolved.
type Tiebreak int

const (
	// TiebreakRandom eliminates one of the tied participants at random.
	TiebreakRandom Tiebreak = iota
	// TiebreakNone eliminates nobody; the round is replayed.
	TiebreakNone
)

func (t Tiebreak) String() string {
	if t == TiebreakNone {
		return "none"
	}

	return "random"
}

// Settings holds per-session game options. Role counts of all zero mean the
// distribution is chosen automatically from the player count at start time.
type Settings struct {
	MrWhiteStart bool
	Tiebreak     Tiebreak
	Civilians    int
	Undercovers  int
	MrWhites     int
}

// Manual reports whether role counts were set by hand.
func (s Settings) Manual() bool {
	return s.Civilians != 0 || s.Undercovers != 0 || s.MrWhites != 0
}

// Violation is a single settings problem, keyed by the offending field.
type Violation struct {
	Field   string
	Message string
}

// Validate checks manual role counts against the player count and returns
// every violation found. Automatic distribution always validates clean.
func (s Settings) Validate(playerCount int) []Violation {
	if !s.Manual() {
		return nil
	}

	var violations []Violation

	total := s.Civilians + s.Undercovers + s.MrWhites
	if total != playerCount {
		violations = append(violations, Violation{
			Field:   "total",
			Message: fmt.Sprintf("total roles (%d) don't match player count (%d)", total, playerCount),
		})
	}

	if s.Civilians == 0 {
		violations = append(violations, Violation{
			Field:   "civilians",
			Message: "there must be at least one civilian",
		})
	} else if s.Civilians <= s.Undercovers {
		violations = append(violations, Violation{
			Field:   "civilians",
			Message: fmt.Sprintf("civilians (%d) must outnumber undercovers (%d)", s.Civilians, s.Undercovers),
		})
	}

	if s.Undercovers == 0 && s.MrWhites == 0 {
		violations = append(violations, Violation{
			Field:   "undercovers",
			Message: "there must be at least one undercover or Mr. White",
		})
	}

	return violations
}
