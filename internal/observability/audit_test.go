package observability

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/db/memory"
)

func TestAuditLogRecordPersistsAndLogs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	store := memory.NewStore()
	audit := newAuditLog(zap.New(core), store)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	audit.now = func() time.Time { return fixed }

	err := audit.Record(context.Background(), db.AuditRecord{
		ChatID:  -100,
		UserID:  7,
		Trigger: "scam",
		Action:  "kick",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if logs.Len() != 1 {
		t.Fatalf("expected one audit line, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["action"] != "kick" || fields["trigger"] != "scam" {
		t.Fatalf("unexpected audit fields: %v", fields)
	}

	all, err := db.NewRecords[db.AuditRecord](store.Collection(db.CollectionAudit)).All(context.Background())
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(all))
	}
	if all[0].ID == "" || !all[0].At.Equal(fixed) {
		t.Fatalf("unexpected persisted record: %+v", all[0])
	}
}
