package storage

import (
	"context"
	"errors"
	"strings"

	"tailwatch/internal/model"
	logx "tailwatch/pkg/logx"
)

// Store is the persistence API used by the tenant registry.
//
// LoadTenants returns tenants in the order they were first added.
// SaveTenants and SaveStates replace the whole document; on failure the
// previously persisted content stays readable.
type Store interface {
	LoadTenants(ctx context.Context) ([]model.Tenant, error)
	SaveTenants(ctx context.Context, tenants []model.Tenant) error
	LoadStates(ctx context.Context) (map[string]*model.NotificationState, error)
	SaveStates(ctx context.Context, states map[string]*model.NotificationState) error
	Close() error
}

// Watchable is implemented by stores whose tenant document can be edited
// by hand while the process runs.
type Watchable interface {
	TenantsPath() string
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
