package migration

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}
	prev := ""
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			t.Fatalf("unexpected migration file %q", name)
		}
		if name <= prev {
			t.Fatalf("migrations out of order: %q after %q", name, prev)
		}
		prev = name
	}
}

func TestWebhookLedgerHasUniqueEventKey(t *testing.T) {
	body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000002_webhook_ledger.up.sql")
	if err != nil {
		t.Fatalf("read ledger migration: %v", err)
	}
	if !strings.Contains(string(body), "UNIQUE INDEX IF NOT EXISTS ux_webhook_events_provider_event ON webhook_events (provider, provider_event_id)") {
		t.Fatal("expected unique (provider, provider_event_id) index")
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	if err := RunMigrations(nil); err == nil {
		t.Fatal("expected error for nil handle")
	}
}
