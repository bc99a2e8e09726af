package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iamwavecut/ngwarden/internal/db"
)

type platformCall struct {
	Verb        string
	ChatID      int64
	UserID      int64
	MessageID   int
	RejoinAfter time.Duration
	Perms       Permissions
	Text        string
}

type fakePlatform struct {
	mu    sync.Mutex
	calls []platformCall

	removeErr     error
	restrictErr   error
	restrictDelay time.Duration
	deleteErrs    []error
	leaveErr      error
	leaveDelay    time.Duration
}

func (p *fakePlatform) record(c platformCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *fakePlatform) RemoveMember(ctx context.Context, chatID, userID int64, rejoinAfter time.Duration) error {
	p.record(platformCall{Verb: "remove", ChatID: chatID, UserID: userID, RejoinAfter: rejoinAfter})
	return p.removeErr
}

func (p *fakePlatform) RestrictMember(ctx context.Context, chatID, userID int64, perms Permissions) error {
	if p.restrictDelay > 0 {
		time.Sleep(p.restrictDelay)
	}
	p.record(platformCall{Verb: "restrict", ChatID: chatID, UserID: userID, Perms: perms})
	return p.restrictErr
}

func (p *fakePlatform) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	p.record(platformCall{Verb: "delete", ChatID: chatID, MessageID: messageID})
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.deleteErrs) == 0 {
		return nil
	}
	err := p.deleteErrs[0]
	p.deleteErrs = p.deleteErrs[1:]
	return err
}

func (p *fakePlatform) SendReply(ctx context.Context, chatID int64, text string) error {
	p.record(platformCall{Verb: "reply", ChatID: chatID, Text: text})
	return nil
}

func (p *fakePlatform) SendMessage(ctx context.Context, chatID int64, text string) error {
	p.record(platformCall{Verb: "message", ChatID: chatID, Text: text})
	return nil
}

func (p *fakePlatform) LeaveChat(ctx context.Context, chatID int64) error {
	if p.leaveDelay > 0 {
		time.Sleep(p.leaveDelay)
	}
	p.record(platformCall{Verb: "leave", ChatID: chatID})
	return p.leaveErr
}

func (p *fakePlatform) verbs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		res = append(res, c.Verb)
	}
	return res
}

func (p *fakePlatform) find(verb string) []platformCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res []platformCall
	for _, c := range p.calls {
		if c.Verb == verb {
			res = append(res, c)
		}
	}
	return res
}

type stubAdmins struct {
	admins map[int64]bool
	err    error
}

func (s stubAdmins) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.admins[userID], nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []db.AuditRecord
}

func (a *recordingAuditor) Record(ctx context.Context, rec db.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAuditor) all() []db.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]db.AuditRecord(nil), a.records...)
}

func fmtVerbs(v []string) string {
	return fmt.Sprintf("%v", v)
}
