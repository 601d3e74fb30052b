/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package undercover

import (
	"math/rand/v2"
	"strings"
)

// Session is one game instance, from lobby to game over. All operations are
// synchronous and in-memory; the caller serializes concurrent access.
type Session struct {
	ID        string
	CreatorID string

	state        State
	participants map[string]*Participant
	joined       []string // roster in join order, for stable rendering

	// turnOrder is fixed at start and never resized; eliminated players
	// stay in it and are skipped.
	turnOrder   []string
	currentTurn int

	civilianWord   string
	undercoverWord string
	round          int

	settings Settings
	words    WordList

	winner  Role
	guesser string // participant owed a Mr. White guess, if any

	rng *rand.Rand
}

// NewSession creates an empty session in the lobby state, drawing words from
// the given list when the game starts.
func NewSession(id, creatorID string, words WordList) *Session {
	return &Session{
		ID:           id,
		CreatorID:    creatorID,
		state:        StateWaiting,
		participants: make(map[string]*Participant),
		words:        words,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (s *Session) State() State { return s.state }

// Round returns the current round number; rounds start at 1 when the game
// starts and a tied replay does not advance the count.
func (s *Session) Round() int { return s.round }

// Words returns the civilian and undercover words. Empty until started.
func (s *Session) Words() (civilian, undercover string) {
	return s.civilianWord, s.undercoverWord
}

// Settings returns a copy of the session's settings.
func (s *Session) Settings() Settings { return s.settings }

// SetSettings replaces the session's settings. Only legal in the lobby.
// Count validity is checked at start time, not here, since players may
// still join or leave.
func (s *Session) SetSettings(settings Settings) error {
	if s.state != StateWaiting {
		return ErrInvalidState
	}

	s.settings = settings

	return nil
}

// AddParticipant registers a new player. Only legal in the lobby.
func (s *Session) AddParticipant(id, username, firstName string) error {
	if s.state != StateWaiting {
		return ErrInvalidState
	}

	if _, ok := s.participants[id]; ok {
		return ErrDuplicateAction
	}

	s.participants[id] = &Participant{
		ID:        id,
		Username:  username,
		FirstName: firstName,
	}
	s.joined = append(s.joined, id)

	return nil
}

// RemoveParticipant drops a player from the lobby. Only legal before start;
// once the turn order is fixed the roster never shrinks.
func (s *Session) RemoveParticipant(id string) error {
	if s.state != StateWaiting {
		return ErrInvalidState
	}

	if _, ok := s.participants[id]; !ok {
		return ErrUnknownParticipant
	}

	delete(s.participants, id)
	for i, pid := range s.joined {
		if pid == id {
			s.joined = append(s.joined[:i], s.joined[i+1:]...)
			break
		}
	}

	return nil
}

// Participant looks up a player by id.
func (s *Session) Participant(id string) (*Participant, bool) {
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns every player in join order.
func (s *Session) Participants() []*Participant {
	out := make([]*Participant, 0, len(s.joined))
	for _, id := range s.joined {
		out = append(out, s.participants[id])
	}

	return out
}

// Alive returns every non-eliminated player in join order.
func (s *Session) Alive() []*Participant {
	out := make([]*Participant, 0, len(s.joined))
	for _, id := range s.joined {
		if p := s.participants[id]; !p.Eliminated {
			out = append(out, p)
		}
	}

	return out
}

// TurnOrder returns a copy of the fixed turn order. Empty until started.
func (s *Session) TurnOrder() []string {
	out := make([]string, len(s.turnOrder))
	copy(out, s.turnOrder)

	return out
}

// roleCounts picks the automatic role distribution for n players.
func (s *Session) roleCounts(n int) (civilians, undercovers, mrWhites int) {
	if s.settings.Manual() {
		return s.settings.Civilians, s.settings.Undercovers, s.settings.MrWhites
	}

	switch {
	case n == 3:
		// Coin flip between one undercover and one Mr. White.
		if s.rng.IntN(2) == 0 {
			return 2, 1, 0
		}
		return 2, 0, 1
	case n == 4:
		return 2, 1, 1
	case n <= 6:
		return n - 3, 2, 1
	default:
		return n - 4, 2, 2
	}
}

// Start draws a word pair, assigns roles and words, fixes the turn order,
// and moves the session into play. Fails without side effects if there are
// fewer than three players, the word list is empty, or manual role counts
// are inconsistent with the roster.
func (s *Session) Start() error {
	if s.state != StateWaiting {
		return ErrInvalidState
	}

	n := len(s.participants)
	if n < 3 {
		return ErrPrecondition
	}

	if len(s.words.Pairs) == 0 {
		return ErrPrecondition
	}

	if len(s.settings.Validate(n)) > 0 {
		return ErrPrecondition
	}

	civilians, undercovers, _ := s.roleCounts(n)

	pair := s.words.Pairs[s.rng.IntN(len(s.words.Pairs))]
	s.civilianWord = pair.Civilian
	s.undercoverWord = pair.Undercover

	// Role assignment and turn order are shuffled independently, so the
	// speaking order leaks nothing about who got which role.
	ids := make([]string, len(s.joined))
	copy(ids, s.joined)
	s.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})

	for i, id := range ids {
		p := s.participants[id]
		switch {
		case i < civilians:
			p.Role = RoleCivilian
			p.Word = s.civilianWord
		case i < civilians+undercovers:
			p.Role = RoleUndercover
			p.Word = s.undercoverWord
		default:
			p.Role = RoleMrWhite
			p.Word = ""
		}
	}

	s.turnOrder = make([]string, len(ids))
	copy(s.turnOrder, ids)
	s.rng.Shuffle(len(s.turnOrder), func(i, j int) {
		s.turnOrder[i], s.turnOrder[j] = s.turnOrder[j], s.turnOrder[i]
	})

	if !s.settings.MrWhiteStart {
		for i, id := range s.turnOrder {
			if s.participants[id].Role != RoleMrWhite {
				s.turnOrder[0], s.turnOrder[i] = s.turnOrder[i], s.turnOrder[0]
				break
			}
		}
	}

	s.currentTurn = 0
	s.round = 1
	s.state = StatePlaying

	return nil
}

// CurrentParticipant returns whose turn it is to speak. If the turn pointer
// sits on an eliminated player it advances past them; false means the round
// is over and the session has moved to voting.
func (s *Session) CurrentParticipant() (*Participant, bool) {
	if s.state != StatePlaying || len(s.turnOrder) == 0 {
		return nil, false
	}

	p := s.participants[s.turnOrder[s.currentTurn]]
	if p.Eliminated {
		next, _ := s.AdvanceTurn()
		if next == nil {
			return nil, false
		}
		return next, true
	}

	return p, true
}

// RecordDescription stores the current speaker's clue for this round.
func (s *Session) RecordDescription(id, text string) error {
	if s.state != StatePlaying {
		return ErrInvalidState
	}

	p, ok := s.participants[id]
	if !ok {
		return ErrUnknownParticipant
	}

	current, ok := s.CurrentParticipant()
	if !ok || current.ID != id {
		return ErrInvalidState
	}

	p.Description = strings.TrimSpace(text)

	return nil
}

// AdvanceTurn marks the current speaker as done and moves the pointer to the
// next living player who hasn't spoken, scanning the fixed order circularly
// for at most one full circuit. A nil participant with a nil error means the
// round is complete and the session has entered the voting phase.
func (s *Session) AdvanceTurn() (*Participant, error) {
	if s.state != StatePlaying {
		return nil, ErrInvalidState
	}

	s.participants[s.turnOrder[s.currentTurn]].HasSpoken = true

	if s.AllSpoken() {
		s.state = StateVoting
		return nil, nil
	}

	for i := 1; i <= len(s.turnOrder); i++ {
		idx := (s.currentTurn + i) % len(s.turnOrder)
		if idx == s.currentTurn {
			break
		}

		p := s.participants[s.turnOrder[idx]]
		if !p.Eliminated && !p.HasSpoken {
			s.currentTurn = idx
			return p, nil
		}
	}

	s.state = StateVoting

	return nil, nil
}

// AllSpoken reports whether every living player has spoken this round.
func (s *Session) AllSpoken() bool {
	for _, p := range s.participants {
		if !p.Eliminated && !p.HasSpoken {
			return false
		}
	}

	return true
}

// AllVoted reports whether every living player has voted this round.
func (s *Session) AllVoted() bool {
	for _, p := range s.participants {
		if !p.Eliminated && !p.HasVoted {
			return false
		}
	}

	return true
}

// CastVote records one player's vote against another. A second vote in the
// same round fails and never overwrites the first.
func (s *Session) CastVote(voterID, targetID string) error {
	if s.state != StateVoting {
		return ErrInvalidState
	}

	voter, ok := s.participants[voterID]
	if !ok || voter.Eliminated {
		return ErrUnknownParticipant
	}

	target, ok := s.participants[targetID]
	if !ok || target.Eliminated {
		return ErrUnknownParticipant
	}

	if voter.HasVoted {
		return ErrDuplicateAction
	}

	voter.HasVoted = true
	voter.VoteTarget = targetID

	return nil
}

// VoteOutcome describes what ResolveVotes did.
type VoteOutcome struct {
	// Tally maps target id to votes received. Empty if nobody voted.
	Tally map[string]int
	// Eliminated is the voted-out player, nil on a no-elimination tie or
	// when no votes were cast.
	Eliminated *Participant
	// Tied is set when two or more targets shared the highest count.
	Tied bool
	// AwaitingGuess is the Mr. White who now owes a guess, when the
	// elimination pushed the session into the guessing phase.
	AwaitingGuess *Participant
}

// ResolveVotes tallies the round's votes and applies the result: eliminate
// the plurality target (ties per the tiebreak setting), hand Mr. White the
// guessing phase when appropriate, and otherwise prepare the next round.
// Call once every living player has voted.
func (s *Session) ResolveVotes() (VoteOutcome, error) {
	if s.state != StateVoting {
		return VoteOutcome{}, ErrInvalidState
	}

	tally := make(map[string]int)
	for _, p := range s.participants {
		if !p.Eliminated && p.HasVoted && p.VoteTarget != "" {
			tally[p.VoteTarget]++
		}
	}

	if len(tally) == 0 {
		return VoteOutcome{Tally: tally}, nil
	}

	max := 0
	var leaders []string
	for id, votes := range tally {
		switch {
		case votes > max:
			max = votes
			leaders = []string{id}
		case votes == max:
			leaders = append(leaders, id)
		}
	}

	outcome := VoteOutcome{
		Tally: tally,
		Tied:  len(leaders) > 1,
	}

	var eliminatedID string
	switch {
	case len(leaders) == 1:
		eliminatedID = leaders[0]
	case s.settings.Tiebreak == TiebreakRandom:
		eliminatedID = leaders[s.rng.IntN(len(leaders))]
	default:
		// No elimination; replay the round with votes cleared and the
		// round counter untouched.
		s.resetRound("", false)
		return outcome, nil
	}

	eliminated := s.participants[eliminatedID]
	eliminated.Eliminated = true
	outcome.Eliminated = eliminated

	if eliminated.Role == RoleMrWhite {
		s.state = StateMrWhiteGuessing
		s.guesser = eliminated.ID
		outcome.AwaitingGuess = eliminated
		return outcome, nil
	}

	// With only Mr. White and a single opponent left, the game can't
	// continue meaningfully; jump straight to the guess.
	if alive := s.Alive(); len(alive) == 2 {
		for _, p := range alive {
			if p.Role == RoleMrWhite {
				s.state = StateMrWhiteGuessing
				s.guesser = p.ID
				outcome.AwaitingGuess = p
				return outcome, nil
			}
		}
	}

	s.resetRound(eliminatedID, true)

	return outcome, nil
}

// resetRound clears per-round flags and descriptions, optionally advances
// the round counter, and repositions the turn pointer just past the last
// eliminated player (or at the top of the order).
func (s *Session) resetRound(lastEliminated string, nextRound bool) {
	for _, p := range s.participants {
		p.HasSpoken = false
		p.HasVoted = false
		p.VoteTarget = ""
		p.Description = ""
	}

	if nextRound {
		s.round++
	}

	s.state = StatePlaying

	idx := -1
	for i, id := range s.turnOrder {
		if id == lastEliminated {
			idx = i
			break
		}
	}

	if idx >= 0 {
		s.currentTurn = idx
		if next, _ := s.AdvanceTurn(); next == nil {
			s.CheckWin()
		}
		return
	}

	s.currentTurn = 0
	if _, ok := s.CurrentParticipant(); !ok {
		s.CheckWin()
	}
}

// PendingMrWhite returns the participant owed a guess while the session is
// in the guessing phase.
func (s *Session) PendingMrWhite() (*Participant, bool) {
	if s.state != StateMrWhiteGuessing || s.guesser == "" {
		return nil, false
	}

	p, ok := s.participants[s.guesser]

	return p, ok
}

// CheckGuess reports whether a Mr. White guess matches the civilian word,
// case-insensitively. It never mutates state.
func (s *Session) CheckGuess(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), s.civilianWord)
}

// ResolveGuess ends the guessing phase. A correct guess wins the game for
// Mr. White outright; a wrong one spends their only chance, so the guesser
// is out regardless of how they entered the phase, and play resumes. After
// a wrong guess the caller must re-run CheckWin, since resuming play can
// itself end the game.
func (s *Session) ResolveGuess(correct bool) error {
	if s.state != StateMrWhiteGuessing {
		return ErrInvalidState
	}

	guesser := s.guesser
	s.guesser = ""

	if correct {
		s.winner = RoleMrWhite
		s.state = StateGameOver
		return nil
	}

	if p, ok := s.participants[guesser]; ok {
		p.Eliminated = true
	}

	s.resetRound("", true)

	return nil
}

// CheckWin counts living players per role and settles the game if decided:
// undercovers (with Mr. White) win by matching the civilian count, civilians
// win by eliminating everyone else. The one special case is a lone Mr. White
// against a single opponent, which forces the guessing phase instead of a
// silent win. Returns the winning role and whether the game is over.
func (s *Session) CheckWin() (Role, bool) {
	if s.state == StateGameOver {
		return s.winner, true
	}

	var civilians, undercovers, mrWhites int
	var lastMrWhite string
	for _, p := range s.participants {
		if p.Eliminated {
			continue
		}
		switch p.Role {
		case RoleCivilian:
			civilians++
		case RoleUndercover:
			undercovers++
		case RoleMrWhite:
			mrWhites++
			lastMrWhite = p.ID
		}
	}

	if mrWhites == 1 && civilians+undercovers == 1 {
		s.state = StateMrWhiteGuessing
		s.guesser = lastMrWhite
		return RoleNone, false
	}

	if civilians == 0 || undercovers+mrWhites >= civilians {
		s.winner = RoleUndercover
		s.state = StateGameOver
		return s.winner, true
	}

	if undercovers == 0 && mrWhites == 0 {
		s.winner = RoleCivilian
		s.state = StateGameOver
		return s.winner, true
	}

	return RoleNone, false
}

// Winner returns the winning role once the game is over.
func (s *Session) Winner() (Role, bool) {
	if s.state != StateGameOver {
		return RoleNone, false
	}

	return s.winner, true
}
