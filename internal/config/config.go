package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		EnabledHandlers  []string `env:"HANDLERS,default=guard,admin"`
		LogLevel         int      `env:"LOG_LEVEL,default=4"`
		DotPath          string   `env:"DOT_PATH,default=~/.ngwarden"`
		Operators        []int64  `env:"OPERATORS"`
		OperatorsFile    string   `env:"OPERATORS_FILE"`
		OpsChannelID     int64    `env:"OPS_CHANNEL_ID"`
		SupportGroup     string   `env:"SUPPORT_GROUP"`
		Workers          int      `env:"WORKERS,default=16"`
		MetricsAddr      string   `env:"METRICS_ADDR"`
		AuditLogPath     string   `env:"AUDIT_LOG,default=stdout"`
		Store            Store
		Moderation       Moderation
	}

	Store struct {
		Driver        string `env:"STORE_DRIVER,default=sqlite"`
		SQLiteFile    string `env:"STORE_SQLITE_FILE,default=ngwarden.db"`
		MongoURI      string `env:"STORE_MONGO_URI"`
		MongoDatabase string `env:"STORE_MONGO_DB,default=ngwarden"`
		RedisURL      string `env:"STORE_REDIS_URL"`
	}

	Moderation struct {
		AdminCacheTTL    time.Duration `env:"ADMIN_CACHE_TTL,default=30m"`
		ReloadCooldown   time.Duration `env:"ADMIN_RELOAD_COOLDOWN,default=10m"`
		KickRejoinAfter  time.Duration `env:"KICK_REJOIN_AFTER,default=45s"`
		SanctionTimeout  time.Duration `env:"SANCTION_TIMEOUT,default=10s"`
		GbanResync       time.Duration `env:"GBAN_RESYNC,default=1h"`
		DefaultWarnLimit int           `env:"DEFAULT_WARN_LIMIT,default=3"`
		DefaultWarnMode  string        `env:"DEFAULT_WARN_MODE,default=mute"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg, err := LoadWith(context.Background(), envconfig.OsLookuper())
		if err != nil {
			globalErr = err
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

// LoadWith reads NG_ prefixed settings from the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	envcfg := envconfig.Config{
		Lookuper: envconfig.PrefixLookuper("NG_", lookuper),
		Target:   cfg,
	}
	if err := envconfig.ProcessWith(ctx, &envcfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	dotPath, err := homedir.Expand(cfg.DotPath)
	if err != nil {
		return nil, fmt.Errorf("expand dot path: %w", err)
	}
	cfg.DotPath = dotPath
	if cfg.OperatorsFile != "" {
		fromFile, err := LoadOperatorsFile(cfg.OperatorsFile)
		if err != nil {
			return nil, err
		}
		cfg.Operators = mergeOperators(cfg.Operators, fromFile)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg, nil
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithError(err).Error("cant load config")
	}
	return cfg
}

// IsOperator reports whether userID is a privileged operator.
func (c Config) IsOperator(userID int64) bool {
	return tool.In(userID, c.Operators...)
}
