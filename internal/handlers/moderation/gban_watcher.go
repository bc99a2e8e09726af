package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

const auditActionGban = "gban"

// GbanWatcher removes globally banned users as soon as they speak.
type GbanWatcher struct {
	bans     *GlobalBans
	platform Platform
	auditor  Auditor
	reporter opsReporter

	timeout    time.Duration
	deleteStep time.Duration
}

func NewGbanWatcher(bans *GlobalBans, platform Platform, auditor Auditor, opsChannelID int64, timeout time.Duration) *GbanWatcher {
	if timeout <= 0 {
		timeout = DefaultSanctionTimeout
	}
	return &GbanWatcher{
		bans:       bans,
		platform:   platform,
		auditor:    auditor,
		reporter:   opsReporter{platform: platform, channelID: opsChannelID, timeout: timeout},
		timeout:    timeout,
		deleteStep: deleteRetryStep,
	}
}

// Watch reports whether the sender was removed. Only senders in the
// materialized banned set are checked against the registry.
func (w *GbanWatcher) Watch(ctx context.Context, ev Event) (bool, error) {
	if ev.Sender.ID == 0 || !w.bans.IsKnownBanned(ev.Sender.ID) {
		return false, nil
	}

	ctx, span := observability.StartSpan(ctx, "gban-watch")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", ev.ChatID),
		attribute.Int64("user_id", ev.Sender.ID),
	)

	entry := w.getLogEntry().WithFields(log.Fields{
		"chat_id": ev.ChatID,
		"user_id": ev.Sender.ID,
	})

	ban, err := w.bans.Get(ctx, ev.Sender.ID)
	if err != nil {
		entry.WithError(err).Warn("cant verify global ban")
		return false, err
	}
	if ban == nil || !ban.Banned {
		// the set was stale; IsBanned corrects it
		if _, err := w.bans.IsBanned(ctx, ev.Sender.ID); err != nil {
			entry.WithError(err).Debug("cant resync banned set")
		}
		return false, nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	err = w.platform.RemoveMember(removeCtx, ev.ChatID, ev.Sender.ID, 0)
	cancel()
	if err != nil {
		observability.RecordSanctionFailure(auditActionGban, errorKind(err))
		if errors.Is(err, errs.ErrPermissionDenied) {
			entry.WithError(err).Info("cant remove globally banned user, skipping")
			return false, nil
		}
		entry.WithError(err).Error("failed to remove globally banned user")
		w.reporter.Report(ctx, "Failed to remove globally banned user %d from chat %d: %v", ev.Sender.ID, ev.ChatID, err)
		return false, fmt.Errorf("remove globally banned user: %w", err)
	}

	if _, err := deleteWithRetry(ctx, w.platform, ev.ChatID, ev.MessageID, deleteAttempts, w.timeout, w.deleteStep); err != nil {
		entry.WithError(err).Warn("cant delete message of globally banned user")
	}

	noticeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	if err := w.platform.SendReply(noticeCtx, ev.ChatID, fmt.Sprintf("This user is globally banned, so they have been removed.\nReason: %s", ban.Reason)); err != nil {
		entry.WithError(err).Debug("cant send global ban notice")
	}
	cancel()

	observability.RecordSanction(auditActionGban, "gban")
	if w.auditor != nil {
		if err := w.auditor.Record(ctx, db.AuditRecord{
			ChatID: ev.ChatID,
			UserID: ev.Sender.ID,
			Action: auditActionGban,
		}); err != nil {
			entry.WithError(err).Error("cant record audit entry")
		}
	}
	entry.Info("globally banned user removed")
	return true, nil
}

func (w *GbanWatcher) getLogEntry() *log.Entry {
	return log.WithField("object", "GbanWatcher")
}
