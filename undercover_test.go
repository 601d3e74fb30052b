/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"testing"

	"github.com/Seednode/undercover/games/undercover"
)

func testHub(t *testing.T) (*Hub, *GameManager) {
	t.Helper()

	words := undercover.WordList{
		Pairs: []undercover.WordPair{
			{Civilian: "Lionel Messi", Undercover: "Cristiano Ronaldo"},
		},
	}

	gm := newGameManager(0, words)

	session, err := gm.sessions.Create("testgame", "", words)
	if err != nil {
		t.Fatalf("Create(): %v", err)
	}

	hub := newHub(gm, "testgame", session)
	gm.hubs["testgame"] = hub

	return hub, gm
}

func testClient(playerID string) *Client {
	return &Client{
		send:     make(chan any, 256),
		playerID: playerID,
	}
}

// drain empties a client's send queue and returns the messages.
func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func lastOfType(msgs []any, msgType string) any {
	var found any
	for _, msg := range msgs {
		switch m := msg.(type) {
		case SimpleMessage:
			if m.Type == msgType {
				found = m
			}
		case RosterMessage:
			if m.Type == msgType {
				found = m
			}
		case RoleMessage:
			if m.Type == msgType {
				found = m
			}
		case TurnMessage:
			if m.Type == msgType {
				found = m
			}
		case GameOverMessage:
			if m.Type == msgType {
				found = m
			}
		case SessionInfoMessage:
			if m.Type == msgType {
				found = m
			}
		}
	}
	return found
}

func join(t *testing.T, cfg *Config, hub *Hub, c *Client, username string) {
	t.Helper()

	hub.handleRegister(c)
	hub.handleJoin(cfg, joinRequest{
		client: c,
		msg:    ClientMessage{Type: "join", Username: username},
	})
}

func TestHubFirstConnectionBecomesCreator(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)

	first := testClient("p1")
	second := testClient("p2")

	hub.handleRegister(first)
	hub.handleRegister(second)

	info, ok := lastOfType(drain(first), "session_info").(SessionInfoMessage)
	if !ok || !info.IsCreator {
		t.Errorf("first connection session_info = %+v, want creator", info)
	}

	info, ok = lastOfType(drain(second), "session_info").(SessionInfoMessage)
	if !ok || info.IsCreator {
		t.Errorf("second connection session_info = %+v, want non-creator", info)
	}
}

func TestHubRejectsDuplicateUsername(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)
	cfg := &Config{}

	alice := testClient("p1")
	impostor := testClient("p2")

	join(t, cfg, hub, alice, "alice")
	join(t, cfg, hub, impostor, "Alice")

	msgs := drain(impostor)
	errMsg, ok := lastOfType(msgs, "error").(SimpleMessage)
	if !ok {
		t.Fatalf("no error message for duplicate username, got %+v", msgs)
	}
	if errMsg.Message == "" {
		t.Error("error message is empty")
	}

	if got := len(hub.session.Participants()); got != 1 {
		t.Errorf("participant count = %d, want 1", got)
	}
}

func TestHubCreatorOnlyControls(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)
	cfg := &Config{}

	creator := testClient("p1")
	other := testClient("p2")

	join(t, cfg, hub, creator, "alice")
	join(t, cfg, hub, other, "bob")
	drain(creator)
	drain(other)

	hub.handleCommand(cfg, command{
		client: other,
		msg:    ClientMessage{Type: "start_game"},
	})
	if _, ok := lastOfType(drain(other), "error").(SimpleMessage); !ok {
		t.Error("non-creator start_game not rejected")
	}

	hub.handleCommand(cfg, command{
		client: other,
		msg:    ClientMessage{Type: "settings", Option: "tiebreaker", Value: "none"},
	})
	if _, ok := lastOfType(drain(other), "error").(SimpleMessage); !ok {
		t.Error("non-creator settings change not rejected")
	}

	if hub.session.Settings().Tiebreak != undercover.TiebreakRandom {
		t.Error("settings changed by non-creator")
	}
}

func TestHubSettingsParsing(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)
	cfg := &Config{}

	creator := testClient("p1")
	join(t, cfg, hub, creator, "alice")

	cases := []struct {
		option string
		value  string
		check  func(s undercover.Settings) bool
	}{
		{"mrwhitestart", "on", func(s undercover.Settings) bool { return s.MrWhiteStart }},
		{"mrwhitestart", "off", func(s undercover.Settings) bool { return !s.MrWhiteStart }},
		{"tiebreaker", "none", func(s undercover.Settings) bool { return s.Tiebreak == undercover.TiebreakNone }},
		{"civilians", "3", func(s undercover.Settings) bool { return s.Civilians == 3 }},
		{"undercover", "1", func(s undercover.Settings) bool { return s.Undercovers == 1 }},
		{"mrwhite", "1", func(s undercover.Settings) bool { return s.MrWhites == 1 }},
	}

	for _, tc := range cases {
		hub.handleCommand(cfg, command{
			client: creator,
			msg:    ClientMessage{Type: "settings", Option: tc.option, Value: tc.value},
		})
		if !tc.check(hub.session.Settings()) {
			t.Errorf("option %s=%s not applied: %+v", tc.option, tc.value, hub.session.Settings())
		}
	}

	hub.handleCommand(cfg, command{
		client: creator,
		msg:    ClientMessage{Type: "settings", Option: "civilians", Value: "lots"},
	})
	if hub.session.Settings().Civilians != 3 {
		t.Error("invalid count value applied")
	}
}

// TestHubFullGame walks an entire game through the hub handlers: four
// players join, Mr. White is voted out, guesses wrong, and the civilians
// finish off the undercover.
func TestHubFullGame(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)
	cfg := &Config{}

	names := []string{"alice", "bob", "carol", "dave"}
	clients := make(map[string]*Client, len(names))
	for i, name := range names {
		c := testClient(name)
		clients[name] = c
		join(t, cfg, hub, c, name)
		if i == 0 && hub.session.CreatorID != c.playerID {
			t.Fatal("first player is not the creator")
		}
	}

	hub.handleCommand(cfg, command{
		client: clients["alice"],
		msg:    ClientMessage{Type: "start_game"},
	})

	if hub.session.State() != undercover.StatePlaying {
		t.Fatalf("state after start = %s", hub.session.State())
	}

	for _, name := range names {
		msgs := drain(clients[name])
		role, ok := lastOfType(msgs, "role").(RoleMessage)
		if !ok {
			t.Fatalf("player %s got no role message", name)
		}
		p, _ := hub.session.Participant(name)
		if (p.Role == undercover.RoleMrWhite) != role.MrWhite {
			t.Errorf("player %s role message mismatch: %+v", name, role)
		}
		if p.Role != undercover.RoleMrWhite && role.Word != p.Word {
			t.Errorf("player %s word = %q, want %q", name, role.Word, p.Word)
		}
	}

	byRole := func(role undercover.Role) *undercover.Participant {
		for _, p := range hub.session.Participants() {
			if p.Role == role && !p.Eliminated {
				return p
			}
		}
		return nil
	}

	speakRound := func() {
		for hub.session.State() == undercover.StatePlaying {
			current, ok := hub.session.CurrentParticipant()
			if !ok {
				break
			}
			hub.handleCommand(cfg, command{
				client: clients[current.ID],
				msg:    ClientMessage{Type: "done", Text: "a clue"},
			})
		}
	}

	voteAgainst := func(target *undercover.Participant) {
		for _, p := range hub.session.Alive() {
			hub.handleCommand(cfg, command{
				client: clients[p.ID],
				msg:    ClientMessage{Type: "vote", TargetUsername: target.Username},
			})
		}
	}

	mrWhite := byRole(undercover.RoleMrWhite)
	if mrWhite == nil {
		t.Fatal("no Mr. White in a 4-player game")
	}

	speakRound()
	if hub.session.State() != undercover.StateVoting {
		t.Fatalf("state after round = %s", hub.session.State())
	}

	voteAgainst(mrWhite)
	if hub.session.State() != undercover.StateMrWhiteGuessing {
		t.Fatalf("state after voting out Mr. White = %s", hub.session.State())
	}

	drain(clients[mrWhite.ID])

	hub.handleGuess(cfg, guessRequest{
		client: clients[mrWhite.ID],
		msg:    ClientMessage{Type: "guess", Text: "Zinedine Zidane"},
	})

	if hub.session.State() != undercover.StatePlaying {
		t.Fatalf("state after wrong guess = %s", hub.session.State())
	}
	if p, _ := hub.session.Participant(mrWhite.ID); !p.Eliminated {
		t.Error("Mr. White survived a wrong guess")
	}

	speakRound()
	voteAgainst(byRole(undercover.RoleUndercover))

	if hub.session.State() != undercover.StateGameOver {
		t.Fatalf("state after final vote = %s", hub.session.State())
	}
	if !hub.closed {
		t.Error("hub not closed after game over")
	}

	over, ok := lastOfType(drain(clients["alice"]), "game_over").(GameOverMessage)
	if !ok {
		t.Fatal("no game_over message broadcast")
	}
	if over.Winner != "civilian" {
		t.Errorf("winner = %q, want civilian", over.Winner)
	}
	if over.CivilianWord != "Lionel Messi" || over.UndercoverWord != "Cristiano Ronaldo" {
		t.Errorf("words not revealed: %+v", over)
	}
}

// TestHubCreatorForceAdvance covers the creator's tools for unsticking a
// stalled round: "next" skips the current speaker, "all_spoken" skips the
// whole remainder of the round straight to the vote.
func TestHubCreatorForceAdvance(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)
	cfg := &Config{}

	names := []string{"alice", "bob", "carol", "dave"}
	clients := make(map[string]*Client, len(names))
	for _, name := range names {
		c := testClient(name)
		clients[name] = c
		join(t, cfg, hub, c, name)
	}

	hub.handleCommand(cfg, command{
		client: clients["alice"],
		msg:    ClientMessage{Type: "start_game"},
	})

	stalled, ok := hub.session.CurrentParticipant()
	if !ok {
		t.Fatal("no current participant after start")
	}

	var other *Client
	for _, name := range names {
		if name != "alice" {
			other = clients[name]
			break
		}
	}
	drain(other)

	hub.handleCommand(cfg, command{
		client: other,
		msg:    ClientMessage{Type: "next"},
	})
	if _, ok := lastOfType(drain(other), "error").(SimpleMessage); !ok {
		t.Error("non-creator next not rejected")
	}
	if stalled.HasSpoken {
		t.Error("non-creator next advanced the turn")
	}

	hub.handleCommand(cfg, command{
		client: clients["alice"],
		msg:    ClientMessage{Type: "next"},
	})

	if !stalled.HasSpoken {
		t.Error("skipped speaker not marked as spoken")
	}
	current, ok := hub.session.CurrentParticipant()
	if !ok || current.ID == stalled.ID {
		t.Errorf("turn did not move past %q", stalled.DisplayName())
	}

	hub.handleCommand(cfg, command{
		client: clients["alice"],
		msg:    ClientMessage{Type: "all_spoken"},
	})

	if hub.session.State() != undercover.StateVoting {
		t.Fatalf("state after all_spoken = %s, want voting", hub.session.State())
	}
	if !hub.session.AllSpoken() {
		t.Error("players still unspoken after all_spoken")
	}
}

func TestHubClosedHubRejectsRegister(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)
	cfg := &Config{}

	creator := testClient("p1")
	join(t, cfg, hub, creator, "alice")

	hub.handleCommand(cfg, command{
		client: creator,
		msg:    ClientMessage{Type: "end_game"},
	})
	if !hub.closed {
		t.Fatal("hub not closed after end_game")
	}

	late := testClient("p2")
	hub.handleRegister(late)

	msg, ok := <-late.send
	if !ok {
		t.Fatal("no message before hangup")
	}
	if simple, ok := msg.(SimpleMessage); !ok || simple.Type != "error" {
		t.Errorf("late client got %+v, want error", msg)
	}
	if _, ok := <-late.send; ok {
		t.Error("late client's send channel not closed")
	}

	hub.mu.RLock()
	_, registered := hub.clients[late]
	hub.mu.RUnlock()
	if registered {
		t.Error("late client registered on a closed hub")
	}
}

func TestGameManagerRemoveStopsHub(t *testing.T) {
	t.Parallel()

	hub, gm := testHub(t)

	gm.remove("testgame")

	select {
	case <-hub.quit:
	default:
		t.Error("quit channel not closed by remove")
	}

	if _, ok := gm.sessions.Get("testgame"); ok {
		t.Error("session survived remove")
	}

	// A second remove for the same id must not close quit again.
	gm.remove("testgame")
}

func TestHubGuessRequiresPendingEntry(t *testing.T) {
	t.Parallel()

	hub, _ := testHub(t)
	cfg := &Config{}

	c := testClient("p1")
	join(t, cfg, hub, c, "alice")
	drain(c)

	hub.handleGuess(cfg, guessRequest{
		client: c,
		msg:    ClientMessage{Type: "guess", Text: "Lionel Messi"},
	})

	if _, ok := lastOfType(drain(c), "error").(SimpleMessage); !ok {
		t.Error("guess without pending entry not rejected")
	}
	if hub.session.State() != undercover.StateWaiting {
		t.Errorf("state = %s, want lobby", hub.session.State())
	}
}

func TestNewGameID(t *testing.T) {
	t.Parallel()

	_, gm := testHub(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gm.newGameID()
		if len(id) != 8 {
			t.Fatalf("len(%q) = %d, want 8", id, len(id))
		}
		for _, r := range id {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			default:
				t.Fatalf("game ID %q contains %q", id, r)
			}
		}
		seen[id] = true
	}

	if len(seen) < 95 {
		t.Errorf("only %d unique IDs out of 100", len(seen))
	}
}

func TestHumanReadableSize(t *testing.T) {
	t.Parallel()

	cases := map[int64]string{
		512:     "512 B",
		1000:    "1.0 kB",
		2500000: "2.5 MB",
	}

	for size, want := range cases {
		if got := humanReadableSize(size); got != want {
			t.Errorf("humanReadableSize(%d) = %q, want %q", size, got, want)
		}
	}
}
