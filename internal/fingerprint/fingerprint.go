// Package fingerprint derives a stable identifier from the semantic content
// of a match result. Two submissions describing the same game collapse to the
// same fingerprint regardless of the order the players were entered in, which
// is how accidental double-submissions are detected.
//
// The fingerprint covers the set of (player, deck) pairs, the winning pair,
// and the match date truncated to its UTC day. Volatile fields (duration,
// notes, turn order, elimination metadata, display names) are excluded.
// Fingerprints are local-only and never sent to the server.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
)

// Compute returns the hex-encoded fingerprint for a match result.
// Deterministic: permuting the player list never changes the output.
func Compute(r match.Result) string {
	pairs := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		pairs = append(pairs, p.PlayerID+"/"+p.DeckID)
	}
	sort.Strings(pairs)

	h := sha256.New()
	io.WriteString(h, strings.Join(pairs, "\n"))
	io.WriteString(h, "\n--\n")
	io.WriteString(h, r.WinnerPlayerID+"/"+r.WinnerDeckID)
	io.WriteString(h, "\n")
	io.WriteString(h, r.MatchDate.UTC().Format("2006-01-02"))
	return hex.EncodeToString(h.Sum(nil))
}
