package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"
	"go.uber.org/zap"

	"github.com/iamwavecut/ngwarden/internal/db"
)

// AuditLog writes one JSON line per applied sanction and keeps a copy in the
// audit collection.
type AuditLog struct {
	logger  *zap.Logger
	records db.Records[db.AuditRecord]
	now     func() time.Time
}

// NewAuditLog builds the zap sink. path may be "stdout", "stderr" or a file.
func NewAuditLog(path string, store db.Store) (*AuditLog, error) {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	if path != "" {
		cfg.OutputPaths = []string{path}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build audit logger: %w", err)
	}
	return newAuditLog(logger.Named("audit"), store), nil
}

func newAuditLog(logger *zap.Logger, store db.Store) *AuditLog {
	return &AuditLog{
		logger:  logger,
		records: db.NewRecords[db.AuditRecord](store.Collection(db.CollectionAudit)),
		now:     time.Now,
	}
}

// Record assigns an id and timestamp when missing, logs the record and
// persists it.
func (a *AuditLog) Record(ctx context.Context, rec db.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	if rec.At.IsZero() {
		rec.At = a.now().UTC()
	}
	a.logger.Info("sanction",
		zap.String("id", rec.ID),
		zap.Int64("chat_id", rec.ChatID),
		zap.Int64("user_id", rec.UserID),
		zap.String("action", rec.Action),
		zap.String("trigger", rec.Trigger),
		zap.Bool("escalated", rec.Escalated),
		zap.Int("warn_count", rec.WarnCount),
		zap.Time("at", rec.At),
	)
	if err := a.records.Create(ctx, rec.ID, &rec); err != nil {
		return fmt.Errorf("persist audit record: %w", err)
	}
	return nil
}

func (a *AuditLog) Sync() error {
	return a.logger.Sync()
}
