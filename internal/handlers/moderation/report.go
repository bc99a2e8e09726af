package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	errs "github.com/iamwavecut/ngwarden/internal/errors"
)

// opsReporter forwards sanction failures to the operators' channel.
type opsReporter struct {
	platform  Platform
	channelID int64
	timeout   time.Duration
}

func (r opsReporter) Report(ctx context.Context, format string, args ...any) {
	if r.channelID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.platform.SendMessage(ctx, r.channelID, fmt.Sprintf(format, args...)); err != nil {
		log.WithFields(log.Fields{
			"object":  "OpsReporter",
			"chat_id": r.channelID,
			"error":   err.Error(),
		}).Warn("cant report to ops channel")
	}
}

// errorKind is the metrics label for a failed platform call.
func errorKind(err error) string {
	switch {
	case errs.IsPermissionDenied(err):
		return "permission"
	case errs.IsNotFound(err):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errs.ErrRateLimited):
		return "rate_limited"
	}
	return "upstream"
}

// deleteWithRetry deletes a message, retrying transient failures. A message
// that is already gone counts as deleted.
func deleteWithRetry(ctx context.Context, p Platform, chatID int64, messageID int, attempts int, timeout time.Duration, step time.Duration) (bool, error) {
	if messageID == 0 {
		return false, nil
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(step * time.Duration(attempt)):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.DeleteMessage(callCtx, chatID, messageID)
		cancel()
		switch {
		case err == nil:
			return true, nil
		case errs.IsNotFound(err):
			return true, nil
		case errs.IsPermissionDenied(err):
			return false, err
		}
		lastErr = err
	}
	return false, fmt.Errorf("delete message %d after %d attempts: %w", messageID, attempts, lastErr)
}
