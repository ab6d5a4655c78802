package storage

import (
	"errors"
	"strings"

	logx "postrelay/pkg/logx"
)

// Open opens the primary SQLite store and the configured delivery record
// backend. When the delivery driver is sqlite, both values share the same
// database handle.
func Open(cfg Config, log logx.Logger) (*SQLite, DeliveryStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	db, err := OpenSQLite(cfg, log.With(logx.String("comp", "storage.sqlite")))
	if err != nil {
		return nil, nil, err
	}
	deliveries, err := OpenDeliveries(cfg.Delivery, db, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, deliveries, nil
}

// OpenDeliveries selects the delivery record backend.
func OpenDeliveries(cfg DeliveryConfig, db *SQLite, log logx.Logger) (DeliveryStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		if db == nil {
			return nil, ErrDisabled
		}
		return sharedSQLite{db}, nil
	case "file":
		return openFileDeliveries(cfg, log.With(logx.String("comp", "storage.file")))
	case "redis":
		return openRedisDeliveries(cfg, log.With(logx.String("comp", "storage.redis")))
	default:
		return nil, errors.New("unknown delivery driver: " + driver)
	}
}

// sharedSQLite exposes the delivery methods of the primary store without
// letting the delivery owner close the shared handle.
type sharedSQLite struct{ *SQLite }

func (sharedSQLite) Close() error { return nil }
