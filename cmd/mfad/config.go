package main

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/core/server"
	"github.com/dmitrymomot/mfa/core/session"
	"github.com/dmitrymomot/mfa/integration/database/pg"
	"github.com/dmitrymomot/mfa/integration/database/redis"
	"github.com/dmitrymomot/mfa/pkg/secrets"
)

// Config is the daemon configuration, loaded from the environment.
type Config struct {
	AppName     string `env:"APP_NAME" envDefault:"mfad"`
	Development bool   `env:"APP_DEV" envDefault:"false"`

	// Store backend: memory, redis or postgres. Memory is for local runs only;
	// credentials are lost on restart.
	Store string `env:"MFA_STORE" envDefault:"memory"`

	// Base64 encoded 32 byte keys. The tenant key scopes encryption to one
	// CRM tenant; both are required to decrypt stored secrets.
	AppKey    string `env:"MFA_APP_KEY,required"`
	TenantKey string `env:"MFA_TENANT_KEY,required"`

	IdentityHeader string `env:"MFA_IDENTITY_HEADER" envDefault:"X-User-ID"`
	MetricsEnabled bool   `env:"MFA_METRICS_ENABLED" envDefault:"true"`

	EventBufferSize int `env:"MFA_EVENT_BUFFER" envDefault:"256"`
	EventWorkers    int `env:"MFA_EVENT_WORKERS" envDefault:"2"`

	MFA     mfa.Config
	Session session.Config
	Server  server.Config
	Redis   redis.Config
	DB      pg.Config
}

const (
	storeMemory   = "memory"
	storeRedis    = "redis"
	storePostgres = "postgres"
)

var errUnknownStore = errors.New("unknown MFA_STORE value")

func (c Config) validate() error {
	switch c.Store {
	case storeMemory, storeRedis, storePostgres:
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownStore, c.Store)
	}
}

// keys decodes the key pair and derives the backup-code pepper.
func (c Config) keys() (app, tenant, pepper []byte, err error) {
	if app, err = base64.StdEncoding.DecodeString(c.AppKey); err != nil {
		return nil, nil, nil, errors.Join(secrets.ErrInvalidAppKey, err)
	}
	if tenant, err = base64.StdEncoding.DecodeString(c.TenantKey); err != nil {
		return nil, nil, nil, errors.Join(secrets.ErrInvalidWorkspaceKey, err)
	}
	pepper, err = secrets.DeriveKey(app, tenant, "mfa/backup-codes/v1")
	if err != nil {
		return nil, nil, nil, err
	}
	return app, tenant, pepper, nil
}
