package config

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/zeebo/blake3"
)

// targetIDHexLen is the number of hex digits kept from the config digest.
const targetIDHexLen = 32

// Effective returns the target with the shared defaults merged under its
// cfg_platform.
func (t TargetConfig) Effective(def TargetDefaults) TargetConfig {
	out := t
	out.Platform = strings.ToLower(strings.TrimSpace(t.Platform))
	if strings.TrimSpace(out.CfgPlatform.BlockUntil) == "" {
		out.CfgPlatform.BlockUntil = def.BlockUntil
	}
	if len(out.CfgPlatform.ReplaceRegex) == 0 && len(def.ReplaceRegex) > 0 {
		out.CfgPlatform.ReplaceRegex = append([][]string(nil), def.ReplaceRegex...)
	}
	return out
}

// ResolvedID returns the explicit id, or one derived from the platform and the
// connection fields. block_until and replace_regex are left out of the digest
// so editing them keeps the same adapter identity across reloads.
func (t TargetConfig) ResolvedID() string {
	if id := strings.TrimSpace(t.ID); id != "" {
		return id
	}
	platform := strings.ToLower(strings.TrimSpace(t.Platform))
	hashed := t.CfgPlatform
	hashed.BlockUntil = ""
	hashed.ReplaceRegex = nil

	// Struct field order keeps the encoding canonical.
	b, err := json.Marshal(struct {
		Platform    string               `json:"platform"`
		CfgPlatform TargetPlatformConfig `json:"cfg_platform"`
	}{platform, hashed})
	if err != nil {
		return platform
	}
	sum := blake3.Sum256(b)
	return platform + "-" + hex.EncodeToString(sum[:])[:targetIDHexLen]
}

// ResolvedTargets returns every target with defaults applied, keyed by
// resolved id. Later duplicates of the same id are dropped.
func (c *Config) ResolvedTargets() ([]TargetConfig, map[string]TargetConfig) {
	if c == nil {
		return nil, nil
	}
	list := make([]TargetConfig, 0, len(c.Targets))
	byID := make(map[string]TargetConfig, len(c.Targets))
	for _, t := range c.Targets {
		eff := t.Effective(c.TargetDefaults)
		eff.ID = eff.ResolvedID()
		if _, dup := byID[eff.ID]; dup {
			continue
		}
		byID[eff.ID] = eff
		list = append(list, eff)
	}
	return list, byID
}
