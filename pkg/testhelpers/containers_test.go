//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestEngineDB_SchemaMigrated(t *testing.T) {
	engineDB := GetEngineDB(t)
	ctx := context.Background()

	for _, table := range []string{"projects", "srs_versions", "memory_facts", "chat_turns"} {
		var exists bool
		err := engineDB.DB.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)",
			table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist after migrations", table)
		}
	}

	for _, index := range []string{"idx_srs_versions_project_created", "idx_chat_turns_session", "idx_memory_facts_project"} {
		var exists bool
		err := engineDB.DB.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)", index).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check index %s: %v", index, err)
		}
		if !exists {
			t.Errorf("expected index %s to exist after migrations", index)
		}
	}
}
