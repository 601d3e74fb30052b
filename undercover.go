// Partybox-style Undercover (Mr. White) game
//
// One secret word is handed to the civilian majority and a near-synonym to
// the undercover minority; Mr. White gets nothing and has to bluff. Players
// take turns describing their word, then vote somebody out. A voted-out
// Mr. White gets a single guess at the civilian word to win outright.
//
// Features:
// - WebSockets per game ID: /undercover/:gameid and /undercover/:gameid/ws
// - First connection to a game becomes the creator
// - Creator configures settings, starts the game, and can end it
// - Players identified by cookie (playerID), so reconnects keep their seat
// - Roles and words delivered privately; the roster never leaks them
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode
//
// All game rules live in games/undercover; this file is transport only.

package main

import (
	"crypto/rand"
	_ "embed"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/undercover/games/undercover"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type           string `json:"type"`                      // "join", "leave", "settings", "start_game", "done", "next", "all_spoken", "vote", "guess", "end_game"
	Username       string `json:"username,omitempty"`        // join
	FirstName      string `json:"first_name,omitempty"`      // join
	Option         string `json:"option,omitempty"`          // settings
	Value          string `json:"value,omitempty"`           // settings
	TargetUsername string `json:"target_username,omitempty"` // vote
	Text           string `json:"text,omitempty"`            // done (description) / guess
}

// SessionInfoMessage is sent immediately on connect so the client knows
// what this cookie is allowed to do.
type SessionInfoMessage struct {
	Type       string `json:"type"` // "session_info"
	State      string `json:"state"`
	Round      int    `json:"round"`
	IsExisting bool   `json:"is_existing"` // true if this cookie already joined
	IsCreator  bool   `json:"is_creator"`
	Username   string `json:"username,omitempty"`
}

// RosterPlayer is the public view of one participant. Roles and words are
// deliberately absent; they go out only in private RoleMessages.
type RosterPlayer struct {
	DisplayName string `json:"display_name"`
	Eliminated  bool   `json:"eliminated"`
	HasSpoken   bool   `json:"has_spoken"`
	HasVoted    bool   `json:"has_voted"`
	Description string `json:"description,omitempty"`
}

type SettingsInfo struct {
	MrWhiteStart bool   `json:"mr_white_start"`
	Tiebreak     string `json:"tiebreak"`
	Civilians    int    `json:"civilians"`
	Undercovers  int    `json:"undercovers"`
	MrWhites     int    `json:"mr_whites"`
}

// RosterMessage broadcasts the lobby/game roster and shared state.
type RosterMessage struct {
	Type        string         `json:"type"` // "roster"
	State       string         `json:"state"`
	Round       int            `json:"round"`
	Players     []RosterPlayer `json:"players"`
	Creator     string         `json:"creator,omitempty"`
	CurrentTurn string         `json:"current_turn,omitempty"`
	Settings    SettingsInfo   `json:"settings"`
}

// RoleMessage is sent privately to a single participant. Civilians and
// undercovers only learn their word, never which of the two they are.
type RoleMessage struct {
	Type    string `json:"type"` // "role"
	Word    string `json:"word,omitempty"`
	MrWhite bool   `json:"mr_white"`
}

// TurnMessage announces whose turn it is to describe their word.
type TurnMessage struct {
	Type     string `json:"type"` // "turn"
	Username string `json:"username"`
	Round    int    `json:"round"`
}

// VoteCastMessage announces a single vote.
type VoteCastMessage struct {
	Type   string `json:"type"` // "vote_cast"
	Voter  string `json:"voter"`
	Target string `json:"target"`
}

// EliminationMessage announces a vote result.
type EliminationMessage struct {
	Type       string         `json:"type"`                 // "elimination"
	Eliminated string         `json:"eliminated,omitempty"` // empty on a no-elimination tie
	Role       string         `json:"role,omitempty"`       // revealed on elimination
	Tied       bool           `json:"tied"`
	Tally      map[string]int `json:"tally"` // display name -> votes
}

// GuessResultMessage informs everyone about Mr. White's guess.
type GuessResultMessage struct {
	Type    string `json:"type"` // "guess_result"
	Player  string `json:"player"`
	Guess   string `json:"guess"`
	Correct bool   `json:"correct"`
}

// FinalPlayer is one row of the game-over reveal.
type FinalPlayer struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Eliminated  bool   `json:"eliminated"`
}

// GameOverMessage reveals everything once the game ends.
type GameOverMessage struct {
	Type           string        `json:"type"`             // "game_over"
	Winner         string        `json:"winner,omitempty"` // empty when terminated early
	CivilianWord   string        `json:"civilian_word,omitempty"`
	UndercoverWord string        `json:"undercover_word,omitempty"`
	Players        []FinalPlayer `json:"players"`
}

// SimpleMessage is for generic notifications and errors.
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type joinRequest struct {
	client *Client
	msg    ClientMessage
}

type command struct {
	client *Client
	msg    ClientMessage
}

type guessRequest struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	gm      *GameManager
	session *undercover.Session
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	joins    chan joinRequest
	cmds     chan command
	guesses  chan guessRequest
	quit     chan struct{}

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
	closed     bool
}

func newHub(gm *GameManager, gameID string, session *undercover.Session) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		gm:         gm,
		session:    session,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		joins:      make(chan joinRequest),
		cmds:       make(chan command),
		guesses:    make(chan guessRequest),
		quit:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case <-h.quit:
			return

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unreg:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.lastActive = time.Now()
			h.mu.Unlock()

		case jr := <-h.joins:
			h.handleJoin(cfg, jr)

		case cmd := <-h.cmds:
			h.handleCommand(cfg, cmd)

		case gr := <-h.guesses:
			h.handleGuess(cfg, gr)
		}
	}
}

// sendLocked queues a message for one client, dropping slow clients.
func (h *Hub) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		h.sendLocked(client, msg)
	}
}

// sendToPlayerLocked delivers a message to every connection of one player.
// Returns false if the player has no live connection; the game state is
// already settled by then, so a failed delivery is informational only.
func (h *Hub) sendToPlayerLocked(playerID string, msg any) bool {
	delivered := false
	for client := range h.clients {
		if client.playerID == playerID {
			h.sendLocked(client, msg)
			delivered = true
		}
	}

	return delivered
}

func (h *Hub) errorTextLocked(err error) string {
	switch err {
	case undercover.ErrInvalidState:
		return "You can't do that right now."
	case undercover.ErrUnknownParticipant:
		return "That player isn't part of this game."
	case undercover.ErrDuplicateAction:
		return "You've already done that this round."
	case undercover.ErrPrecondition:
		return "The game isn't ready for that yet."
	default:
		return "Something went wrong."
	}
}

func (h *Hub) sendErrorLocked(c *Client, err error) {
	h.sendLocked(c, SimpleMessage{
		Type:    "error",
		Message: h.errorTextLocked(err),
	})
}

func (h *Hub) rosterMessageLocked() RosterMessage {
	s := h.session

	players := make([]RosterPlayer, 0, len(s.Participants()))
	for _, p := range s.Participants() {
		players = append(players, RosterPlayer{
			DisplayName: p.DisplayName(),
			Eliminated:  p.Eliminated,
			HasSpoken:   p.HasSpoken,
			HasVoted:    p.HasVoted,
			Description: p.Description,
		})
	}

	var creator string
	if p, ok := s.Participant(s.CreatorID); ok {
		creator = p.DisplayName()
	}

	var currentTurn string
	if p, ok := s.CurrentParticipant(); ok {
		currentTurn = p.DisplayName()
	}

	settings := s.Settings()

	return RosterMessage{
		Type:        "roster",
		State:       s.State().String(),
		Round:       s.Round(),
		Players:     players,
		Creator:     creator,
		CurrentTurn: currentTurn,
		Settings: SettingsInfo{
			MrWhiteStart: settings.MrWhiteStart,
			Tiebreak:     settings.Tiebreak.String(),
			Civilians:    settings.Civilians,
			Undercovers:  settings.Undercovers,
			MrWhites:     settings.MrWhites,
		},
	}
}

func (h *Hub) roleMessageLocked(p *undercover.Participant) RoleMessage {
	return RoleMessage{
		Type:    "role",
		Word:    p.Word,
		MrWhite: p.Role == undercover.RoleMrWhite,
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	// A closed hub is already out of the manager, so a registered client
	// would never be cleaned up. Tell them and hang up instead.
	if h.closed {
		c.send <- SimpleMessage{
			Type:    "error",
			Message: "This game has ended. Refresh the page to start a new one.",
		}
		close(c.send)
		return
	}

	// First connection becomes the creator.
	if h.session.CreatorID == "" {
		h.session.CreatorID = c.playerID
	}

	h.clients[c] = true

	participant, isExisting := h.session.Participant(c.playerID)

	info := SessionInfoMessage{
		Type:       "session_info",
		State:      h.session.State().String(),
		Round:      h.session.Round(),
		IsExisting: isExisting,
		IsCreator:  h.session.CreatorID == c.playerID,
	}
	if isExisting {
		info.Username = participant.DisplayName()
	}
	h.sendLocked(c, info)

	h.sendLocked(c, h.rosterMessageLocked())

	// Reconnecting players get their role back.
	if isExisting && participant.Role != undercover.RoleNone && h.session.State() != undercover.StateGameOver {
		h.sendLocked(c, h.roleMessageLocked(participant))
	}

	if pending, ok := h.session.PendingMrWhite(); ok && pending.ID == c.playerID {
		h.sendLocked(c, SimpleMessage{
			Type:    "guess_prompt",
			Message: "You've been caught as Mr. White! What is the civilians' word? You get one guess.",
		})
	}
}

// handleJoin processes "join" and "leave" messages.
func (h *Hub) handleJoin(cfg *Config, jr joinRequest) {
	c := jr.client
	msg := jr.msg

	if c.playerID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.closed {
		return
	}

	if msg.Type == "leave" {
		if err := h.session.RemoveParticipant(c.playerID); err != nil {
			h.sendErrorLocked(c, err)
			return
		}
		h.broadcastLocked(h.rosterMessageLocked())
		return
	}

	if msg.Username == "" {
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "Please choose a username before joining.",
		})
		return
	}

	// Duplicate display names make voting ambiguous.
	for _, p := range h.session.Participants() {
		if p.ID != c.playerID && strings.EqualFold(p.Username, msg.Username) {
			h.sendLocked(c, SimpleMessage{
				Type:    "error",
				Message: "That username is already taken. Please choose a different one.",
			})
			return
		}
	}

	if err := h.session.AddParticipant(c.playerID, msg.Username, msg.FirstName); err != nil {
		h.sendErrorLocked(c, err)
		return
	}

	logf(cfg, "GAMES: Player %q joined %s", msg.Username, h.id)

	h.broadcastLocked(h.rosterMessageLocked())
}

// handleCommand processes settings, start_game, done, next, all_spoken,
// vote, and end_game.
func (h *Hub) handleCommand(cfg *Config, cmd command) {
	c := cmd.client
	msg := cmd.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.closed {
		return
	}

	switch msg.Type {
	case "settings":
		h.applySettingLocked(c, msg)

	case "start_game":
		h.startGameLocked(cfg, c)

	case "done":
		h.finishTurnLocked(c, msg)

	case "next":
		h.forceAdvanceLocked(cfg, c, false)

	case "all_spoken":
		h.forceAdvanceLocked(cfg, c, true)

	case "vote":
		h.castVoteLocked(cfg, c, msg)

	case "end_game":
		h.endGameLocked(cfg, c)
	}
}

// applySettingLocked handles one creator settings change, mirroring the
// option/value command shape the game has always used.
func (h *Hub) applySettingLocked(c *Client, msg ClientMessage) {
	if c.playerID != h.session.CreatorID {
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "Only the game creator can change settings.",
		})
		return
	}

	settings := h.session.Settings()
	value := strings.ToLower(strings.TrimSpace(msg.Value))

	switch strings.ToLower(msg.Option) {
	case "mrwhitestart":
		settings.MrWhiteStart = value == "on" || value == "true" || value == "yes" || value == "1"

	case "tiebreaker":
		switch value {
		case "random":
			settings.Tiebreak = undercover.TiebreakRandom
		case "none":
			settings.Tiebreak = undercover.TiebreakNone
		default:
			h.sendLocked(c, SimpleMessage{
				Type:    "error",
				Message: "Invalid tiebreaker. Use 'random' or 'none'.",
			})
			return
		}

	case "civilians", "undercover", "mrwhite":
		count, err := strconv.Atoi(value)
		if err != nil || count < 0 {
			h.sendLocked(c, SimpleMessage{
				Type:    "error",
				Message: "Counts must be non-negative numbers (0 = automatic).",
			})
			return
		}
		switch strings.ToLower(msg.Option) {
		case "civilians":
			settings.Civilians = count
		case "undercover":
			settings.Undercovers = count
		case "mrwhite":
			settings.MrWhites = count
		}

	default:
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "Unknown option. Available: mrwhitestart, tiebreaker, civilians, undercover, mrwhite.",
		})
		return
	}

	if err := h.session.SetSettings(settings); err != nil {
		h.sendErrorLocked(c, err)
		return
	}

	// Early warning; start re-validates against the final roster.
	for _, v := range settings.Validate(len(h.session.Participants())) {
		h.sendLocked(c, SimpleMessage{
			Type:    "warning",
			Message: "Settings may prevent starting: " + v.Message,
		})
	}

	h.broadcastLocked(h.rosterMessageLocked())
}

func (h *Hub) startGameLocked(cfg *Config, c *Client) {
	if c.playerID != h.session.CreatorID {
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "Only the game creator can start the game.",
		})
		return
	}

	playerCount := len(h.session.Participants())

	if violations := h.session.Settings().Validate(playerCount); len(violations) > 0 {
		for _, v := range violations {
			h.sendLocked(c, SimpleMessage{
				Type:    "error",
				Message: "Cannot start: " + v.Message,
			})
		}
		return
	}

	if err := h.session.Start(); err != nil {
		if err == undercover.ErrPrecondition && playerCount < 3 {
			h.sendLocked(c, SimpleMessage{
				Type:    "error",
				Message: "Need at least 3 players to start.",
			})
			return
		}
		h.sendErrorLocked(c, err)
		return
	}

	logf(cfg, "GAMES: Started %s with %d players", h.id, playerCount)

	// Words go out privately before the public announcement.
	for _, p := range h.session.Participants() {
		if !h.sendToPlayerLocked(p.ID, h.roleMessageLocked(p)) {
			h.broadcastLocked(SimpleMessage{
				Type:    "warning",
				Message: "Could not reach " + p.DisplayName() + "; they should reconnect to see their word.",
			})
		}
	}

	h.broadcastLocked(h.rosterMessageLocked())

	if current, ok := h.session.CurrentParticipant(); ok {
		h.broadcastLocked(TurnMessage{
			Type:     "turn",
			Username: current.DisplayName(),
			Round:    h.session.Round(),
		})
	}
}

// finishTurnLocked stores the speaker's description and advances the turn.
func (h *Hub) finishTurnLocked(c *Client, msg ClientMessage) {
	if text := strings.TrimSpace(msg.Text); text != "" {
		if err := h.session.RecordDescription(c.playerID, text); err != nil {
			h.sendErrorLocked(c, err)
			return
		}
	} else {
		// No description given; still require it to be this player's turn.
		current, ok := h.session.CurrentParticipant()
		if !ok || current.ID != c.playerID {
			h.sendLocked(c, SimpleMessage{
				Type:    "error",
				Message: "It's not your turn.",
			})
			return
		}
	}

	next, err := h.session.AdvanceTurn()
	if err != nil {
		h.sendErrorLocked(c, err)
		return
	}

	h.broadcastLocked(h.rosterMessageLocked())

	if next == nil {
		h.broadcastLocked(SimpleMessage{
			Type:    "voting",
			Message: "All players have spoken! Time to vote.",
		})
		return
	}

	h.broadcastLocked(TurnMessage{
		Type:     "turn",
		Username: next.DisplayName(),
		Round:    h.session.Round(),
	})
}

// forceAdvanceLocked lets the creator push past an unresponsive speaker,
// or skip the rest of the round straight to the vote.
func (h *Hub) forceAdvanceLocked(cfg *Config, c *Client, toVoting bool) {
	if c.playerID != h.session.CreatorID {
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "Only the game creator can advance the turn.",
		})
		return
	}

	skipped, ok := h.session.CurrentParticipant()
	if !ok {
		h.sendErrorLocked(c, undercover.ErrInvalidState)
		return
	}

	next, err := h.session.AdvanceTurn()
	if err != nil {
		h.sendErrorLocked(c, err)
		return
	}

	for toVoting && next != nil {
		next, err = h.session.AdvanceTurn()
		if err != nil {
			h.sendErrorLocked(c, err)
			return
		}
	}

	logf(cfg, "GAMES: Creator skipped %q in %s", skipped.DisplayName(), h.id)

	h.broadcastLocked(h.rosterMessageLocked())

	if next == nil {
		h.broadcastLocked(SimpleMessage{
			Type:    "voting",
			Message: "All players have spoken! Time to vote.",
		})
		return
	}

	h.broadcastLocked(TurnMessage{
		Type:     "turn",
		Username: next.DisplayName(),
		Round:    h.session.Round(),
	})
}

func (h *Hub) castVoteLocked(cfg *Config, c *Client, msg ClientMessage) {
	target := h.findByUsernameLocked(msg.TargetUsername)
	if target == nil {
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "Could not find that player.",
		})
		return
	}

	voter, ok := h.session.Participant(c.playerID)
	if !ok {
		h.sendErrorLocked(c, undercover.ErrUnknownParticipant)
		return
	}

	if err := h.session.CastVote(voter.ID, target.ID); err != nil {
		h.sendErrorLocked(c, err)
		return
	}

	h.broadcastLocked(VoteCastMessage{
		Type:   "vote_cast",
		Voter:  voter.DisplayName(),
		Target: target.DisplayName(),
	})

	if h.session.AllVoted() {
		h.resolveVotesLocked(cfg)
	}
}

func (h *Hub) findByUsernameLocked(username string) *undercover.Participant {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	for _, p := range h.session.Participants() {
		if strings.EqualFold(p.Username, username) {
			return p
		}
	}

	return nil
}

func (h *Hub) displayTallyLocked(tally map[string]int) map[string]int {
	out := make(map[string]int, len(tally))
	for id, votes := range tally {
		if p, ok := h.session.Participant(id); ok {
			out[p.DisplayName()] = votes
		}
	}

	return out
}

func (h *Hub) resolveVotesLocked(cfg *Config) {
	outcome, err := h.session.ResolveVotes()
	if err != nil {
		return
	}

	result := EliminationMessage{
		Type:  "elimination",
		Tied:  outcome.Tied,
		Tally: h.displayTallyLocked(outcome.Tally),
	}
	if outcome.Eliminated != nil {
		result.Eliminated = outcome.Eliminated.DisplayName()
		result.Role = outcome.Eliminated.Role.String()
	}
	h.broadcastLocked(result)

	if guesser := outcome.AwaitingGuess; guesser != nil {
		if err := h.gm.guesses.Register(guesser.ID, h.id); err != nil {
			logf(cfg, "GAMES: Stale pending guess for %q in %s", guesser.DisplayName(), h.id)
		}

		h.broadcastLocked(SimpleMessage{
			Type:    "mr_white_guess",
			Message: guesser.DisplayName() + " was Mr. White and gets one chance to guess the civilians' word!",
		})
		h.sendToPlayerLocked(guesser.ID, SimpleMessage{
			Type:    "guess_prompt",
			Message: "You've been caught as Mr. White! What is the civilians' word? You get one guess.",
		})
		return
	}

	if outcome.Eliminated == nil {
		// Tie with no elimination: the round replays.
		h.broadcastLocked(h.rosterMessageLocked())
		if current, ok := h.session.CurrentParticipant(); ok {
			h.broadcastLocked(TurnMessage{
				Type:     "turn",
				Username: current.DisplayName(),
				Round:    h.session.Round(),
			})
		}
		return
	}

	if winner, over := h.session.CheckWin(); over {
		h.finishGameLocked(cfg, winner)
		return
	}

	// CheckWin can force the final guess without a Mr. White elimination.
	if pending, ok := h.session.PendingMrWhite(); ok {
		if err := h.gm.guesses.Register(pending.ID, h.id); err != nil {
			logf(cfg, "GAMES: Stale pending guess for %q in %s", pending.DisplayName(), h.id)
		}

		h.broadcastLocked(SimpleMessage{
			Type:    "mr_white_guess",
			Message: "Only " + pending.DisplayName() + " and one other player remain. Mr. White must guess the civilians' word!",
		})
		h.sendToPlayerLocked(pending.ID, SimpleMessage{
			Type:    "guess_prompt",
			Message: "Only you and one other player remain! What is the civilians' word? You get one guess.",
		})
		return
	}

	h.broadcastLocked(h.rosterMessageLocked())

	if current, ok := h.session.CurrentParticipant(); ok {
		h.broadcastLocked(TurnMessage{
			Type:     "turn",
			Username: current.DisplayName(),
			Round:    h.session.Round(),
		})
	}
}

// handleGuess processes Mr. White's word guess.
func (h *Hub) handleGuess(cfg *Config, gr guessRequest) {
	c := gr.client
	msg := gr.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.closed {
		return
	}

	sessionID, ok := h.gm.guesses.Lookup(c.playerID)
	if !ok || sessionID != h.id {
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "You don't have a pending guess in this game.",
		})
		return
	}

	guesser, ok := h.session.Participant(c.playerID)
	if !ok {
		return
	}

	if _, err := h.gm.guesses.Resolve(c.playerID); err != nil {
		return
	}

	guess := strings.TrimSpace(msg.Text)
	correct := h.session.CheckGuess(guess)

	if err := h.session.ResolveGuess(correct); err != nil {
		h.sendErrorLocked(c, err)
		return
	}

	logf(cfg, "GAMES: %q guessed %q in %s (correct: %t)", guesser.DisplayName(), guess, h.id, correct)

	h.broadcastLocked(GuessResultMessage{
		Type:    "guess_result",
		Player:  guesser.DisplayName(),
		Guess:   guess,
		Correct: correct,
	})

	if correct {
		h.finishGameLocked(cfg, undercover.RoleMrWhite)
		return
	}

	if winner, over := h.session.CheckWin(); over {
		h.finishGameLocked(cfg, winner)
		return
	}

	// With multiple Mr. Whites in play, the win check can force the next
	// guess immediately.
	if pending, ok := h.session.PendingMrWhite(); ok {
		if err := h.gm.guesses.Register(pending.ID, h.id); err != nil {
			logf(cfg, "GAMES: Stale pending guess for %q in %s", pending.DisplayName(), h.id)
		}

		h.broadcastLocked(SimpleMessage{
			Type:    "mr_white_guess",
			Message: "Only " + pending.DisplayName() + " and one other player remain. Mr. White must guess the civilians' word!",
		})
		h.sendToPlayerLocked(pending.ID, SimpleMessage{
			Type:    "guess_prompt",
			Message: "Only you and one other player remain! What is the civilians' word? You get one guess.",
		})
		return
	}

	h.broadcastLocked(h.rosterMessageLocked())

	if current, ok := h.session.CurrentParticipant(); ok {
		h.broadcastLocked(TurnMessage{
			Type:     "turn",
			Username: current.DisplayName(),
			Round:    h.session.Round(),
		})
	}
}

func (h *Hub) finalPlayersLocked() []FinalPlayer {
	players := make([]FinalPlayer, 0, len(h.session.Participants()))
	for _, p := range h.session.Participants() {
		players = append(players, FinalPlayer{
			DisplayName: p.DisplayName(),
			Role:        p.Role.String(),
			Eliminated:  p.Eliminated,
		})
	}

	return players
}

// finishGameLocked reveals the result and tears the session down.
func (h *Hub) finishGameLocked(cfg *Config, winner undercover.Role) {
	civilianWord, undercoverWord := h.session.Words()

	h.broadcastLocked(GameOverMessage{
		Type:           "game_over",
		Winner:         winner.String(),
		CivilianWord:   civilianWord,
		UndercoverWord: undercoverWord,
		Players:        h.finalPlayersLocked(),
	})

	logf(cfg, "GAMES: Finished %s, winner: %s", h.id, winner)

	h.closed = true

	// Deregistration grabs the manager lock, so it can't happen under h.mu.
	go h.gm.remove(h.id)
}

// endGameLocked terminates the session on the creator's request, revealing
// words and roles if the game had started.
func (h *Hub) endGameLocked(cfg *Config, c *Client) {
	if c.playerID != h.session.CreatorID {
		h.sendLocked(c, SimpleMessage{
			Type:    "error",
			Message: "Only the game creator can end the game.",
		})
		return
	}

	msg := GameOverMessage{
		Type:    "game_over",
		Players: h.finalPlayersLocked(),
	}
	if h.session.State() != undercover.StateWaiting {
		msg.CivilianWord, msg.UndercoverWord = h.session.Words()
	}
	h.broadcastLocked(msg)

	logf(cfg, "GAMES: Terminated %s", h.id)

	h.closed = true

	go h.gm.remove(h.id)
}

// closeAll drops every client of a dead hub. Only the send channels are
// closed here; each writePump closes its own connection after flushing, so
// queued messages like the final game_over still go out.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "undercover_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session. The session and guess registries live here;
// guesses are keyed by player rather than by game.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration

	sessions *undercover.Registry
	guesses  *undercover.GuessRegistry
	words    undercover.WordList
}

func newGameManager(idleTimeout time.Duration, words undercover.WordList) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		sessions:    undercover.NewRegistry(),
		guesses:     undercover.NewGuessRegistry(),
		words:       words,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	// Creator is unknown until the first connection arrives.
	session, err := gm.sessions.Create(gameID, "", gm.words)
	if err != nil {
		session, _ = gm.sessions.Get(gameID)
	}

	hub := newHub(gm, gameID, session)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

// remove drops a finished or terminated game from all registries and stops
// its run loop. Only the path that finds the hub still in the map closes the
// quit channel, so a racing reaper can't close it twice.
func (gm *GameManager) remove(gameID string) {
	gm.mu.Lock()
	hub, ok := gm.hubs[gameID]
	delete(gm.hubs, gameID)
	gm.mu.Unlock()

	if ok {
		close(hub.quit)
		go hub.closeAll()
	}

	gm.sessions.Delete(gameID)
	gm.guesses.DropSession(gameID)
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		stale := make([]*Hub, 0)
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				stale = append(stale, hub)
			}
		}
		gm.mu.Unlock()

		for _, hub := range stale {
			close(hub.quit)
			gm.sessions.Delete(hub.id)
			gm.guesses.DropSession(hub.id)
			go hub.closeAll()
		}
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.quit:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.quit:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "leave":
			select {
			case h.joins <- joinRequest{client: c, msg: msg}:
			case <-h.quit:
				return
			}
		case "settings", "start_game", "done", "next", "all_spoken", "vote", "end_game":
			select {
			case h.cmds <- command{client: c, msg: msg}:
			case <-h.quit:
				return
			}
		case "guess":
			select {
			case h.guesses <- guessRequest{client: c, msg: msg}:
			case <-h.quit:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed undercover/index.html
var indexHTML []byte

//go:embed undercover/app.css
var undercoverCSS []byte

//go:embed undercover/app.js
var undercoverJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(undercoverCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(undercoverJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerUndercoverGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerUndercoverGame(cfg *Config, path string, words undercover.WordList, mux *httprouter.Router) {
	gm := newGameManager(cfg.sessionTimeout, words)

	// Root path → redirect to new random game
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/undercover/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/undercover/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
