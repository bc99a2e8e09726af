package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

const (
	DefaultKickRejoinAfter = 45 * time.Second
	DefaultSanctionTimeout = 10 * time.Second

	deleteAttempts  = 3
	deleteRetryStep = 300 * time.Millisecond
)

type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipNoSender         SkipReason = "no_sender"
	SkipOperator         SkipReason = "operator"
	SkipNoContent        SkipReason = "no_content"
	SkipNoTriggers       SkipReason = "no_triggers"
	SkipAdmin            SkipReason = "admin"
	SkipAdminUnconfirmed SkipReason = "admin_unconfirmed"
	SkipApproved         SkipReason = "approved"
	SkipNoMatch          SkipReason = "no_match"
	SkipPermissionDenied SkipReason = "permission_denied"
	SkipSanctionFailed   SkipReason = "sanction_failed"
	SkipRegistryFailure  SkipReason = "registry_failure"
)

// Verdict describes what the pipeline did with one event.
type Verdict struct {
	Skipped        SkipReason
	Trigger        string
	Action         db.Action
	Escalated      bool
	WarnCount      int
	MessageDeleted bool
}

func (v *Verdict) Sanctioned() bool {
	return v.Skipped == SkipNone && v.Action.Valid()
}

type EnforcerOptions struct {
	IsOperator      func(userID int64) bool
	OpsChannelID    int64
	KickRejoinAfter time.Duration
	SanctionTimeout time.Duration
}

// Enforcer matches group messages against the chat blacklist and applies the
// configured sanction.
type Enforcer struct {
	platform   Platform
	admins     AdminChecker
	blacklists *Blacklists
	warns      *WarnLedger
	approvals  *Approvals
	auditor    Auditor
	reporter   opsReporter

	isOperator      func(userID int64) bool
	kickRejoinAfter time.Duration
	sanctionTimeout time.Duration
	deleteStep      time.Duration
}

func NewEnforcer(platform Platform, admins AdminChecker, blacklists *Blacklists, warns *WarnLedger, approvals *Approvals, auditor Auditor, opts EnforcerOptions) *Enforcer {
	e := &Enforcer{
		platform:        platform,
		admins:          admins,
		blacklists:      blacklists,
		warns:           warns,
		approvals:       approvals,
		auditor:         auditor,
		isOperator:      opts.IsOperator,
		kickRejoinAfter: opts.KickRejoinAfter,
		sanctionTimeout: opts.SanctionTimeout,
		deleteStep:      deleteRetryStep,
	}
	if e.isOperator == nil {
		e.isOperator = func(int64) bool { return false }
	}
	if e.kickRejoinAfter <= 0 {
		e.kickRejoinAfter = DefaultKickRejoinAfter
	}
	if e.sanctionTimeout <= 0 {
		e.sanctionTimeout = DefaultSanctionTimeout
	}
	e.reporter = opsReporter{platform: platform, channelID: opts.OpsChannelID, timeout: e.sanctionTimeout}
	return e
}

// Enforce runs the blacklist pipeline for one event. Permission failures are
// logged and reported but not returned; other failures are returned after
// being logged and reported.
func (e *Enforcer) Enforce(ctx context.Context, ev Event) (*Verdict, error) {
	ctx, span := observability.StartSpan(ctx, "enforce")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_id", ev.ChatID),
		attribute.Int64("user_id", ev.Sender.ID),
	)

	verdict, err := e.enforce(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if verdict != nil {
		span.SetAttributes(
			attribute.String("skipped", string(verdict.Skipped)),
			attribute.String("trigger", verdict.Trigger),
		)
	}
	return verdict, err
}

func (e *Enforcer) enforce(ctx context.Context, ev Event) (*Verdict, error) {
	entry := e.getLogEntry().WithFields(log.Fields{
		"chat_id": ev.ChatID,
		"user_id": ev.Sender.ID,
		"is_bot":  ev.Sender.IsBot,
	})

	if ev.Sender.ID == 0 {
		return &Verdict{Skipped: SkipNoSender}, nil
	}
	if e.isOperator(ev.Sender.ID) {
		return &Verdict{Skipped: SkipOperator}, nil
	}
	content := ev.Content()
	if strings.TrimSpace(content) == "" {
		return &Verdict{Skipped: SkipNoContent}, nil
	}

	bl, err := e.blacklists.Get(ctx, ev.ChatID)
	if err != nil {
		entry.WithError(err).Warn("cant load blacklist")
		return &Verdict{Skipped: SkipRegistryFailure}, fmt.Errorf("load blacklist: %w", err)
	}
	if len(bl.Triggers) == 0 {
		return &Verdict{Skipped: SkipNoTriggers}, nil
	}

	isAdmin, err := e.admins.IsAdmin(ctx, ev.ChatID, ev.Sender.ID)
	if err != nil {
		entry.WithError(err).Warn("cant confirm admin status, holding sanction")
		return &Verdict{Skipped: SkipAdminUnconfirmed}, fmt.Errorf("confirm admin status: %w", err)
	}
	if isAdmin {
		return &Verdict{Skipped: SkipAdmin}, nil
	}

	approved, err := e.approvals.IsApproved(ctx, ev.ChatID, ev.Sender.ID)
	if err != nil {
		entry.WithError(err).Warn("cant load approvals")
		return &Verdict{Skipped: SkipRegistryFailure}, fmt.Errorf("load approvals: %w", err)
	}
	if approved {
		return &Verdict{Skipped: SkipApproved}, nil
	}

	trigger, ok := MatchTrigger(content, bl.Triggers)
	if !ok {
		return &Verdict{Skipped: SkipNoMatch}, nil
	}

	verdict := &Verdict{Trigger: trigger, Action: bl.Action}
	entry = entry.WithField("trigger", trigger)
	reason := bl.ReasonFor(trigger)

	if err := e.dispatch(ctx, ev, bl.Action, reason, verdict); err != nil {
		return e.failed(ctx, entry, ev, verdict, err)
	}
	entry = entry.WithField("action", verdict.Action.String())

	deleted, err := deleteWithRetry(ctx, e.platform, ev.ChatID, ev.MessageID, deleteAttempts, e.sanctionTimeout, e.deleteStep)
	verdict.MessageDeleted = deleted
	if err != nil {
		entry.WithError(err).Warn("cant delete offending message")
		e.reporter.Report(ctx, "Failed to delete message %d in chat %d: %v", ev.MessageID, ev.ChatID, err)
	}

	observability.RecordSanction(verdict.Action.String(), "blacklist")
	e.audit(ctx, entry, db.AuditRecord{
		ChatID:    ev.ChatID,
		UserID:    ev.Sender.ID,
		Trigger:   trigger,
		Action:    verdict.Action.String(),
		Escalated: verdict.Escalated,
		WarnCount: verdict.WarnCount,
	})
	entry.WithField("escalated", verdict.Escalated).Info("sanction applied")
	return verdict, nil
}

// dispatch applies exactly one action. For warn it consults the ledger and
// escalates to the chat's warn mode once the limit is reached.
func (e *Enforcer) dispatch(ctx context.Context, ev Event, action db.Action, reason string, verdict *Verdict) error {
	switch action {
	case db.ActionKick, db.ActionBan, db.ActionMute:
		if err := e.apply(ctx, ev.ChatID, ev.Sender.ID, action); err != nil {
			return err
		}
		e.reply(ctx, ev.ChatID, sanctionNotice(action, ev.Sender, reason))
		return nil

	case db.ActionWarn:
		outcome, err := e.warns.Warn(ctx, ev.ChatID, ev.Sender.ID, reason)
		if err != nil {
			return err
		}
		verdict.WarnCount = outcome.Count
		if !outcome.Crossed {
			e.reply(ctx, ev.ChatID, fmt.Sprintf("User %s has %d/%d warnings; be careful!\nReason: %s", ev.Sender.Name, outcome.Count, outcome.Limit, reason))
			return nil
		}

		// The ledger is already cleared; a failed sanction is reported, not retried.
		verdict.Action = outcome.Mode
		verdict.Escalated = true
		if err := e.apply(ctx, ev.ChatID, ev.Sender.ID, outcome.Mode); err != nil {
			return err
		}
		e.reply(ctx, ev.ChatID, fmt.Sprintf("Warnings exceeded (%d/%d)! %s", outcome.Count, outcome.Limit, sanctionNotice(outcome.Mode, ev.Sender, reason)))
		return nil
	}
	return fmt.Errorf("%w: unsupported action %s", errs.ErrInvalidInput, action)
}

// apply runs a punitive sanction under the sanction timeout.
func (e *Enforcer) apply(ctx context.Context, chatID, userID int64, action db.Action) error {
	ctx, cancel := context.WithTimeout(ctx, e.sanctionTimeout)
	defer cancel()

	switch action {
	case db.ActionKick:
		return e.platform.RemoveMember(ctx, chatID, userID, e.kickRejoinAfter)
	case db.ActionBan:
		return e.platform.RemoveMember(ctx, chatID, userID, 0)
	case db.ActionMute:
		return e.platform.RestrictMember(ctx, chatID, userID, MutePermissions())
	case db.ActionWarn:
	}
	return fmt.Errorf("%w: %s is not a punitive action", errs.ErrInvalidInput, action)
}

func (e *Enforcer) failed(ctx context.Context, entry *log.Entry, ev Event, verdict *Verdict, err error) (*Verdict, error) {
	observability.RecordSanctionFailure(verdict.Action.String(), errorKind(err))
	entry = entry.WithFields(log.Fields{
		"action": verdict.Action.String(),
		"error":  err.Error(),
	})
	if errs.IsPermissionDenied(err) {
		verdict.Skipped = SkipPermissionDenied
		entry.Warn("no rights to apply sanction")
		e.reporter.Report(ctx, "No rights to %s user %d in chat %d: %v", verdict.Action, ev.Sender.ID, ev.ChatID, err)
		return verdict, nil
	}
	verdict.Skipped = SkipSanctionFailed
	entry.Error("sanction failed")
	e.reporter.Report(ctx, "Failed to %s user %d in chat %d: %v", verdict.Action, ev.Sender.ID, ev.ChatID, err)
	return verdict, fmt.Errorf("apply %s: %w", verdict.Action, err)
}

func (e *Enforcer) reply(ctx context.Context, chatID int64, text string) {
	ctx, cancel := context.WithTimeout(ctx, e.sanctionTimeout)
	defer cancel()
	if err := e.platform.SendReply(ctx, chatID, text); err != nil {
		e.getLogEntry().WithFields(log.Fields{
			"chat_id": chatID,
			"error":   err.Error(),
		}).Warn("cant send sanction notice")
	}
}

func (e *Enforcer) audit(ctx context.Context, entry *log.Entry, rec db.AuditRecord) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Record(ctx, rec); err != nil {
		entry.WithError(err).Error("cant record audit entry")
	}
}

func sanctionNotice(action db.Action, sender Sender, reason string) string {
	var verb string
	switch action {
	case db.ActionKick:
		verb = "Kicked"
	case db.ActionBan:
		verb = "Banned"
	case db.ActionMute:
		verb = "Muted"
	case db.ActionWarn:
		verb = "Warned"
	default:
		verb = "Sanctioned"
	}
	return fmt.Sprintf("%s %s.\nReason: %s", verb, sender.Name, reason)
}

func (e *Enforcer) getLogEntry() *log.Entry {
	return log.WithField("object", "Enforcer")
}
