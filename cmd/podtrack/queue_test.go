package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

// executeCmd executes a subcommand with captured output against an
// isolated queue database.
func executeCmd(t *testing.T, dbPath string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Cobra parses into package-level variables; stale values from
	// previous tests would leak if not reset.
	dbPathOverride = ""
	queueJSONOutput = false
	recordFile = "-"
	recordSyncNow = false
	statusJSONOutput = false

	// Point config at a missing file so defaults apply.
	t.Setenv("PODTRACK_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	fullArgs := append([]string{}, args...)
	fullArgs = append(fullArgs, "--db", dbPath)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(fullArgs)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

// executeCmdWithStdin executes a subcommand with piped stdin.
func executeCmdWithStdin(t *testing.T, dbPath, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	dbPathOverride = ""
	queueJSONOutput = false
	recordFile = "-"
	recordSyncNow = false
	statusJSONOutput = false

	t.Setenv("PODTRACK_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	fullArgs := append([]string{}, args...)
	fullArgs = append(fullArgs, "--db", dbPath)

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(fullArgs)
	rootCmd.SetIn(strings.NewReader(stdin))

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	rootCmd.SetIn(nil)

	return outBuf.String(), errBuf.String(), err
}

const validMatchJSON = `{
  "players": [
    {"player_id": "p1", "player_name": "Alice", "deck_id": "d1", "deck_name": "Atraxa", "is_winner": true},
    {"player_id": "p2", "player_name": "Bob", "deck_id": "d2", "deck_name": "Krenko", "is_winner": false},
    {"player_id": "p3", "player_name": "Cho", "deck_id": "d3", "deck_name": "Meren", "is_winner": false}
  ],
  "winner_player_id": "p1",
  "winner_deck_id": "d1",
  "match_date": "2026-08-29T20:15:00Z"
}`

func TestRecord_QueuesMatch(t *testing.T) {
	db := filepath.Join(t.TempDir(), "queue.db")

	stdout, _, err := executeCmdWithStdin(t, db, validMatchJSON, "record")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !strings.Contains(stdout, "Queued match ") {
		t.Errorf("stdout = %q, want queued confirmation", stdout)
	}

	stdout, _, err = executeCmd(t, db, "queue", "count", "--json")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decode count output %q: %v", stdout, err)
	}
	if out.Count != 1 {
		t.Errorf("count = %d, want 1", out.Count)
	}
}

func TestRecord_RejectsInvalidMatch(t *testing.T) {
	db := filepath.Join(t.TempDir(), "queue.db")
	invalid := `{"players": [], "winner_player_id": "", "winner_deck_id": "", "match_date": "2026-08-29T20:15:00Z"}`

	_, stderr, err := executeCmdWithStdin(t, db, invalid, "record")
	if err == nil {
		t.Fatal("expected error for invalid match")
	}
	if !strings.Contains(stderr, "invalid") {
		t.Errorf("stderr = %q, want validation detail", stderr)
	}

	stdout, _, _ := executeCmd(t, db, "queue", "count")
	if strings.TrimSpace(stdout) != "0" {
		t.Errorf("count output = %q, want 0", stdout)
	}
}

func TestQueueList_EmptyAndPopulated(t *testing.T) {
	db := filepath.Join(t.TempDir(), "queue.db")

	stdout, _, err := executeCmd(t, db, "queue", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, "Queue is empty.") {
		t.Errorf("stdout = %q, want empty message", stdout)
	}

	if _, _, err := executeCmdWithStdin(t, db, validMatchJSON, "record"); err != nil {
		t.Fatalf("record: %v", err)
	}

	stdout, _, err = executeCmd(t, db, "queue", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, "Alice") || !strings.Contains(stdout, "pending") {
		t.Errorf("stdout = %q, want queued match row", stdout)
	}
}

func TestQueueRemove_DeletesRecord(t *testing.T) {
	db := filepath.Join(t.TempDir(), "queue.db")

	if _, _, err := executeCmdWithStdin(t, db, validMatchJSON, "record"); err != nil {
		t.Fatalf("record: %v", err)
	}
	stdout, _, err := executeCmd(t, db, "queue", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list struct {
		Matches []struct {
			ID string `json:"id"`
		} `json:"matches"`
	}
	if err := json.Unmarshal([]byte(stdout), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(list.Matches))
	}

	stdout, _, err = executeCmd(t, db, "queue", "remove", list.Matches[0].ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(stdout, "Removed") {
		t.Errorf("stdout = %q, want removal confirmation", stdout)
	}

	_, _, err = executeCmd(t, db, "queue", "remove", list.Matches[0].ID)
	if err == nil {
		t.Fatal("expected error removing a missing record")
	}
}
