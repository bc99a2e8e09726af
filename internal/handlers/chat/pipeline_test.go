package handlers

import (
	"context"
	"strings"
	"testing"

	"github.com/sethvargo/go-envconfig"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/config"
	"github.com/iamwavecut/ngwarden/internal/db"
	moderation "github.com/iamwavecut/ngwarden/internal/handlers/moderation"
)

// newDefaultChain wires the handlers in the order the default config enables
// them.
func newDefaultChain(t *testing.T, f *commandsFixture, w *stubWatcher, e *stubEnforcer) *bot.UpdateProcessor {
	t.Helper()
	cfg, err := config.LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"NG_TOKEN":    "token",
		"NG_DOT_PATH": t.TempDir(),
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	up := bot.NewUpdateProcessor(cfg.EnabledHandlers)
	up.RegisterUpdateHandler("guard", NewGuard(nil, w, e, &stubInvalidator{}))
	up.RegisterUpdateHandler("admin", f.commands)
	return up
}

func TestDefaultChainGuardsCommandMessages(t *testing.T) {
	t.Parallel()

	f := newCommandsFixture(t)
	w := &stubWatcher{}
	e := &stubEnforcer{verdict: &moderation.Verdict{Skipped: moderation.SkipNoMatch}}
	up := newDefaultChain(t, f, w, e)

	for _, text := range []string{"/adminlist buy this scam now", "/gban scam scam scam"} {
		u, _, _ := commandUpdate(memberID, text, nil)
		if err := up.Process(context.Background(), u); err != nil {
			t.Fatalf("%s: %v", text, err)
		}
	}
	if len(w.events) != 2 || len(e.events) != 2 {
		t.Fatalf("watcher saw %d events, enforcer saw %d, want 2 each", len(w.events), len(e.events))
	}
	if e.events[0].Content() != "/adminlist buy this scam now" {
		t.Fatalf("unexpected content: %q", e.events[0].Content())
	}
	if got := f.replier.last(); got != MsgOperatorOnly {
		t.Fatalf("commands still run after the guard passes, last reply %q", got)
	}
	if !strings.HasPrefix(f.replier.replies[0], "Admins in this chat:") {
		t.Fatalf("unexpected adminlist reply: %q", f.replier.replies[0])
	}
}

func TestDefaultChainSanctionStopsCommand(t *testing.T) {
	t.Parallel()

	f := newCommandsFixture(t)
	e := &stubEnforcer{verdict: &moderation.Verdict{Trigger: "scam", Action: db.ActionBan}}
	up := newDefaultChain(t, f, &stubWatcher{}, e)

	u, _, _ := commandUpdate(memberID, "/adminlist buy this scam now", nil)
	if err := up.Process(context.Background(), u); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.replier.replies) != 0 {
		t.Fatalf("sanctioned message must not run commands, replies %v", f.replier.replies)
	}
}

func TestDefaultChainGbannedSenderIsRemovedBeforeCommands(t *testing.T) {
	t.Parallel()

	f := newCommandsFixture(t)
	w := &stubWatcher{removed: true}
	e := &stubEnforcer{}
	up := newDefaultChain(t, f, w, e)

	u, _, _ := commandUpdate(memberID, "/warns", nil)
	if err := up.Process(context.Background(), u); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(w.events) != 1 || len(e.events) != 0 || len(f.replier.replies) != 0 {
		t.Fatalf("watcher %d, enforcer %d, replies %v", len(w.events), len(e.events), f.replier.replies)
	}
}
