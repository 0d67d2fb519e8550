// Package store persists fix sessions and audit trails. Sessions are
// append-and-update only; nothing is ever deleted.
//
// Two implementations exist: a SQLite store for the daemon and an in-memory
// store for one-shot runs and tests. Both satisfy engine.Store.
package store

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/config"
	"github.com/fyrsmithlabs/fixd/internal/engine"
)

// New constructs the store selected by config.
func New(cfg config.StoreConfig, logger *zap.Logger) (engine.Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
