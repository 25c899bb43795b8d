package match

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxNotesLength = 2000

// FieldError represents a single field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field failures for a rejected payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid match result: " + strings.Join(msgs, "; ")
}

// Validate checks a match result against the server's acceptance rules so a
// payload that can never be delivered is rejected before it is queued.
// Returns nil when the result is valid.
func Validate(r Result) error {
	var c collector

	if len(r.Players) < MinPlayers {
		c.add("players", fmt.Sprintf("match must have at least %d players", MinPlayers))
	}
	if r.MatchDate.IsZero() {
		c.add("match_date", "is required")
	}

	seen := make(map[string]bool, len(r.Players))
	winnerPresent := false
	for i, p := range r.Players {
		field := fmt.Sprintf("players[%d]", i)
		if p.PlayerID == "" {
			c.add(field+".player_id", "is required")
		}
		if p.DeckID == "" {
			c.add(field+".deck_id", "is required")
		}
		checkText(&c, field+".player_name", p.PlayerName)
		checkText(&c, field+".deck_name", p.DeckName)
		if p.PlayerID != "" {
			if seen[p.PlayerID] {
				c.add(field+".player_id", "duplicate player in match")
			}
			seen[p.PlayerID] = true
		}
		if p.PlayerID == r.WinnerPlayerID {
			winnerPresent = true
		}
	}

	if r.WinnerPlayerID == "" {
		c.add("winner_player_id", "is required")
	} else if !winnerPresent {
		c.add("winner_player_id", "winner must be one of the players in the match")
	}
	if r.WinnerDeckID == "" {
		c.add("winner_deck_id", "is required")
	}
	if r.DurationSeconds < 0 {
		c.add("duration_seconds", "must not be negative")
	}
	if utf8.RuneCountInString(r.Notes) > maxNotesLength {
		c.add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	checkText(&c, "notes", r.Notes)

	if len(c.fields) > 0 {
		return &ValidationError{Fields: c.fields}
	}
	return nil
}

func checkText(c *collector, field, value string) {
	if !utf8.ValidString(value) {
		c.add(field, "must be valid UTF-8")
		return
	}
	if strings.Contains(value, "\x00") {
		c.add(field, "must not contain null bytes")
	}
}

// collector accumulates field errors without failing on the first.
type collector struct {
	fields []FieldError
}

func (c *collector) add(field, message string) {
	c.fields = append(c.fields, FieldError{Field: field, Message: message})
}
