// Package match defines the match result payload delivered to the
// leaderboard server, along with its validation rules.
package match

import "time"

// Player is one seat in a recorded match: who played, and with what deck.
type Player struct {
	PlayerID       string `json:"player_id"`
	PlayerName     string `json:"player_name"`
	DeckID         string `json:"deck_id"`
	DeckName       string `json:"deck_name"`
	IsWinner       bool   `json:"is_winner"`
	TurnOrder      int    `json:"turn_order,omitempty"`
	EliminatedTurn *int   `json:"eliminated_turn,omitempty"`
}

// Result is the match result payload. It is what gets delivered to the
// server; the queue treats it as opaque beyond validation at enqueue time.
type Result struct {
	Players         []Player  `json:"players"`
	WinnerPlayerID  string    `json:"winner_player_id"`
	WinnerDeckID    string    `json:"winner_deck_id"`
	MatchDate       time.Time `json:"match_date"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// MinPlayers is the smallest pod the server accepts.
const MinPlayers = 3
