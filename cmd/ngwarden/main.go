package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/admincache"
	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/config"
	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/db/driver"
	chat "github.com/iamwavecut/ngwarden/internal/handlers/chat"
	moderation "github.com/iamwavecut/ngwarden/internal/handlers/moderation"
	"github.com/iamwavecut/ngwarden/internal/infra"
	"github.com/iamwavecut/ngwarden/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngwarden/internal/lifecycle"
	"github.com/iamwavecut/ngwarden/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stdout)
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if code := run(ctx, cfg); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, cfg config.Config) int {
	dataDir, err := infra.EnsureWorkDir(cfg.DotPath)
	if err != nil {
		log.WithError(err).Errorln("cant prepare work dir")
		return 1
	}

	store, err := driver.Open(ctx, cfg.Store, dataDir)
	if err != nil {
		log.WithError(err).Errorln("cant open record store")
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("cant close record store")
		}
	}()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		return 1
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	service := bot.NewService(botAPI, store)
	ops := telegram.NewOperations(service.GetBot())

	admins := admincache.New(ops, admincache.Options{
		TTL:        cfg.Moderation.AdminCacheTTL,
		Cooldown:   cfg.Moderation.ReloadCooldown,
		IsOperator: cfg.IsOperator,
	})

	warnMode, err := db.ParseAction(cfg.Moderation.DefaultWarnMode)
	if err != nil || !warnMode.ValidWarnMode() {
		log.WithField("warn_mode", cfg.Moderation.DefaultWarnMode).Warn("invalid default warn mode, using mute")
		warnMode = db.DefaultWarnMode
	}

	gbans := moderation.NewGlobalBans(service.GetStore(), cfg.Moderation.GbanResync)
	blacklists := moderation.NewBlacklists(service.GetStore())
	warns := moderation.NewWarnLedger(service.GetStore(), cfg.Moderation.DefaultWarnLimit, warnMode)
	approvals := moderation.NewApprovals(service.GetStore())
	chatBlocks := moderation.NewChatBlacklist(service.GetStore())
	if err := chatBlocks.Reload(ctx); err != nil {
		log.WithError(err).Errorln("cant load chat blacklist")
		return 1
	}

	audit, err := observability.NewAuditLog(cfg.AuditLogPath, service.GetStore())
	if err != nil {
		log.WithError(err).Errorln("cant initialize audit log")
		return 1
	}
	defer func() { _ = audit.Sync() }()

	enforcer := moderation.NewEnforcer(ops, admins, blacklists, warns, approvals, audit, moderation.EnforcerOptions{
		IsOperator:      cfg.IsOperator,
		OpsChannelID:    cfg.OpsChannelID,
		KickRejoinAfter: cfg.Moderation.KickRejoinAfter,
		SanctionTimeout: cfg.Moderation.SanctionTimeout,
	})
	watcher := moderation.NewGbanWatcher(gbans, ops, audit, cfg.OpsChannelID, cfg.Moderation.SanctionTimeout)
	chatWatcher := moderation.NewChatWatcher(chatBlocks, ops, audit, cfg.SupportGroup, cfg.Moderation.SanctionTimeout)
	guard := chat.NewGuard(chatWatcher, watcher, enforcer, admins)

	// guard must precede admin: command messages are moderated too
	updateProcessor := bot.NewUpdateProcessor(cfg.EnabledHandlers)
	updateProcessor.RegisterUpdateHandler("guard", guard)
	updateProcessor.RegisterUpdateHandler("admin", chat.NewCommands(chat.CommandsDeps{
		Replier:    ops,
		Admins:     admins,
		GlobalBans: gbans,
		ChatBlocks: chatBlocks,
		Blacklists: blacklists,
		Warns:      warns,
		Approvals:  approvals,
		Verdicts:   guard,
		IsOperator: cfg.IsOperator,
		BotID:      service.Self().ID,
	}))
	updateProcessor.WarnMissing()

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{"message", "edited_message", "chat_member", "my_chat_member"}
	dispatcher := bot.NewDispatcher(func(ctx context.Context) (<-chan api.Update, <-chan error) {
		return bot.GetUpdatesChans(ctx, botAPI, updateConfig)
	}, updateProcessor, cfg.Workers)

	runtime := lifecycle.NewRuntime()
	runtime.Register("tracing", observability.NewTracing())
	runtime.Register("metrics", observability.NewMetricsServer(cfg.MetricsAddr))
	runtime.Register("global_bans", gbans)
	runtime.Register("dispatcher", dispatcher)

	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Errorln("cant start runtime")
		return 1
	}
	log.WithField("bot", bot.GetUN(&botAPI.Self)).Info("ngwarden is running")

	monitor := infra.MonitorExecutable(ctx, infra.DefaultExecCheckInterval)
	code := 0
wait:
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			break wait
		case err := <-dispatcher.Done():
			log.WithError(err).Errorln("bot api get updates error")
			code = 1
			break wait
		case _, changed := <-monitor:
			if !changed {
				monitor = nil
				continue
			}
			log.Errorln("executable file was modified")
			break wait
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := runtime.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("unclean shutdown")
	}
	return code
}
