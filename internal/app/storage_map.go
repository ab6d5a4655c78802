package app

import (
	"fmt"
	"strings"
	"time"

	"postrelay/internal/config"
	"postrelay/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil {
		return storage.Config{}, fmt.Errorf("config is nil")
	}
	sc := cfg.Storage
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	d := sc.Delivery
	driver := strings.ToLower(strings.TrimSpace(d.Driver))
	switch driver {
	case "", "sqlite", "sqlite3", "file", "redis":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.delivery.driver: %s", d.Driver)
	}
	if driver == "redis" && strings.TrimSpace(d.RedisAddr) == "" {
		return storage.Config{}, fmt.Errorf("storage.delivery.redis_addr is required when driver=redis")
	}
	return storage.Config{
		Path:        path,
		BusyTimeout: busy,
		Delivery: storage.DeliveryConfig{
			Driver:        driver,
			Path:          strings.TrimSpace(d.Path),
			RedisAddr:     strings.TrimSpace(d.RedisAddr),
			RedisPassword: d.RedisPassword,
			RedisDB:       d.RedisDB,
			RedisPrefix:   d.RedisPrefix,
		},
	}, nil
}
