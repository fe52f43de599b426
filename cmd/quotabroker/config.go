package main

import (
	"time"

	"github.com/antihub/quotabroker/core/server"
	"github.com/antihub/quotabroker/integration/database/pg"
	"github.com/antihub/quotabroker/integration/database/redis"
)

type Config struct {
	AppName     string `env:"APP_NAME" envDefault:"quotabroker"`
	Environment string `env:"APP_ENV" envDefault:"development"`

	// Pre-shared key for the /v1/admin surface. Required: the broker
	// refuses to start with an open admin boundary.
	AdminAPIKey string `env:"ADMIN_API_KEY,required"`

	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`
	MaxPendingAge     time.Duration `env:"MAX_PENDING_AGE" envDefault:"60s"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`

	DB     pg.Config
	Redis  redis.Config
	Server server.Config
}
