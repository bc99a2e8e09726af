package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

const auditActionLeave = "leave"

// ChatBlacklist is the operator-maintained list of chats the bot refuses to
// serve. The membership set is kept in memory for the hot path.
type ChatBlacklist struct {
	records db.Records[db.BlacklistedChat]
	now     func() time.Time

	mu      sync.Mutex
	blocked *xsync.MapOf[int64, struct{}]
}

func NewChatBlacklist(store db.Store) *ChatBlacklist {
	return &ChatBlacklist{
		records: db.NewRecords[db.BlacklistedChat](store.Collection(db.CollectionChatBlocks)),
		now:     time.Now,
		blocked: xsync.NewMapOf[int64, struct{}](),
	}
}

// Reload replaces the in-memory set with the store's contents.
func (b *ChatBlacklist) Reload(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.records.All(ctx)
	if err != nil {
		return fmt.Errorf("load chat blacklist: %w", err)
	}
	b.blocked.Clear()
	for _, rec := range all {
		b.blocked.Store(rec.ChatID, struct{}{})
	}
	log.WithField("object", "ChatBlacklist").WithField("count", len(all)).Debug("chat blacklist loaded")
	return nil
}

func (b *ChatBlacklist) IsBlacklisted(chatID int64) bool {
	_, ok := b.blocked.Load(chatID)
	return ok
}

// Add blacklists chatID. updated is true when the chat was already listed.
func (b *ChatBlacklist) Add(ctx context.Context, chatID int64, reason string, adminID int64) (updated bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := db.ChatKey(chatID)
	existing, err := b.records.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get blacklisted chat %d: %w", chatID, err)
	}
	rec := &db.BlacklistedChat{ChatID: chatID, Reason: reason, AdminID: adminID, AddedAt: b.now().UTC()}
	if existing != nil {
		rec.AddedAt = existing.AddedAt
		updated = true
	}
	if err := b.records.Put(ctx, key, rec); err != nil {
		return false, fmt.Errorf("put blacklisted chat %d: %w", chatID, err)
	}
	b.blocked.Store(chatID, struct{}{})
	return updated, nil
}

// Remove is a no-op for a chat that is not listed.
func (b *ChatBlacklist) Remove(ctx context.Context, chatID int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed, err := b.records.Delete(ctx, db.ChatKey(chatID))
	if err != nil {
		return false, fmt.Errorf("delete blacklisted chat %d: %w", chatID, err)
	}
	b.blocked.Delete(chatID)
	return removed, nil
}

func (b *ChatBlacklist) List(ctx context.Context) ([]*db.BlacklistedChat, error) {
	all, err := b.records.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blacklisted chats: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ChatID < all[j].ChatID })
	return all, nil
}

// ChatPlatform is what the watcher needs to say goodbye.
type ChatPlatform interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	LeaveChat(ctx context.Context, chatID int64) error
}

// ChatWatcher makes the bot leave blacklisted chats the first time it sees
// activity there.
type ChatWatcher struct {
	list         *ChatBlacklist
	platform     ChatPlatform
	auditor      Auditor
	supportGroup string
	timeout      time.Duration

	leaving *xsync.MapOf[int64, struct{}]
}

func NewChatWatcher(list *ChatBlacklist, platform ChatPlatform, auditor Auditor, supportGroup string, timeout time.Duration) *ChatWatcher {
	if timeout <= 0 {
		timeout = DefaultSanctionTimeout
	}
	return &ChatWatcher{
		list:         list,
		platform:     platform,
		auditor:      auditor,
		supportGroup: supportGroup,
		timeout:      timeout,
		leaving:      xsync.NewMapOf[int64, struct{}](),
	}
}

// Watch reports whether chatID is blacklisted. The first caller for a listed
// chat sends the notice and leaves; concurrent callers only get the answer.
func (w *ChatWatcher) Watch(ctx context.Context, chatID int64) (bool, error) {
	if !w.list.IsBlacklisted(chatID) {
		return false, nil
	}
	if _, busy := w.leaving.LoadOrStore(chatID, struct{}{}); busy {
		return true, nil
	}
	defer w.leaving.Delete(chatID)

	ctx, span := observability.StartSpan(ctx, "chat-blacklist-leave")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID))

	entry := w.getLogEntry().WithField("chat_id", chatID)

	noticeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	if err := w.platform.SendMessage(noticeCtx, chatID, w.notice()); err != nil {
		entry.WithError(err).Debug("cant send blacklisted chat notice")
	}
	cancel()

	leaveCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.platform.LeaveChat(leaveCtx, chatID); err != nil {
		entry.WithError(err).Error("cant leave blacklisted chat")
		return true, fmt.Errorf("leave blacklisted chat %d: %w", chatID, err)
	}

	if w.auditor != nil {
		if err := w.auditor.Record(ctx, db.AuditRecord{ChatID: chatID, Action: auditActionLeave}); err != nil {
			entry.WithError(err).Error("cant record audit entry")
		}
	}
	entry.Info("left blacklisted chat")
	return true, nil
}

func (w *ChatWatcher) notice() string {
	text := "This is a blacklisted group!"
	if w.supportGroup != "" {
		text += "\nFor Support, Join @" + w.supportGroup
	}
	return text + "\nNow, I'm outta here!"
}

func (w *ChatWatcher) getLogEntry() *log.Entry {
	return log.WithField("object", "ChatWatcher")
}
