package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"p2pplatform/internal/common/cache"
	"p2pplatform/internal/common/database"
	"p2pplatform/internal/common/money"
	natsx "p2pplatform/internal/common/nats"
	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/contacts"
	"p2pplatform/internal/p2p/settlement"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"P2P_PORT" default:"8090"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`

	// SQLitePath is used, together with the in-memory ledger, when
	// DATABASE_URL is empty.
	SQLitePath string   `envconfig:"SQLITE_PATH" default:"p2p.db"`
	Currencies []string `envconfig:"CURRENCIES" default:"USD"`

	JWTSecret   string        `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`
	JWTIssuer   string        `envconfig:"JWT_ISSUER" default:"p2p"`
	JWTLifetime time.Duration `envconfig:"JWT_LIFETIME" default:"24h"`

	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	PublicRateLimit int64         `envconfig:"PUBLIC_RATE_LIMIT" default:"60"`
	PublicRateWin   time.Duration `envconfig:"PUBLIC_RATE_WINDOW" default:"1m"`

	// Deposits exposes POST /api/v1/ledger/accounts/{id}/deposits for
	// funding wallets outside production.
	Deposits bool `envconfig:"LEDGER_DEPOSITS" default:"false"`

	NATSEnabled bool `envconfig:"NATS_ENABLED" default:"false"`
	QueueSize   int  `envconfig:"SETTLEMENT_QUEUE_SIZE" default:"1024"`

	Database   database.Config
	Redis      cache.Config
	NATS       natsx.Config
	Directory  contacts.HTTPConfig
	Engine     p2p.Config
	Settlement settlement.Config
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing config: %w", err)
	}
	return cfg, nil
}

func (c Config) currencies() ([]money.Currency, error) {
	out := make([]money.Currency, 0, len(c.Currencies))
	for _, s := range c.Currencies {
		cur := money.Currency(strings.ToUpper(strings.TrimSpace(s)))
		if !cur.Valid() {
			return nil, fmt.Errorf("unsupported currency %q in CURRENCIES", s)
		}
		out = append(out, cur)
	}
	return out, nil
}
