package app

import (
	"encoding/json"

	"postrelay/internal/config"
)

func jsonConfig(cfg *config.Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}
