package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsMigrationFiles(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the directory
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to read embedded FS: %v", err)
	}

	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}

	// Then: It contains every schema migration
	for _, want := range []string{
		"001_create_queue.sql",
		"002_synced_fingerprints.sql",
		"003_client_info.sql",
	} {
		if !names[want] {
			t.Errorf("%s not found in embedded FS", want)
		}
	}
}

func TestEmbeddedFS_QueueMigrationReadable(t *testing.T) {
	content, err := FS.ReadFile("001_create_queue.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	contentStr := string(content)
	if !strings.Contains(contentStr, "-- +goose Up") {
		t.Error("migration missing '-- +goose Up' directive")
	}
	if !strings.Contains(contentStr, "-- +goose Down") {
		t.Error("migration missing '-- +goose Down' directive")
	}
	if !strings.Contains(contentStr, "CREATE TABLE queued_matches") {
		t.Error("migration missing queued_matches table creation")
	}
}
