package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: info
  console: true
storage:
  path: ./data/relay.db
scheduler:
  enabled: true
crawlers:
  - name: x-main
    platform: x
    u_ids: [alice]
    cfg_forwarder:
      cron: "*/5 * * * *"
formatters:
  - id: fmt-img
    render_type: img-with-source
targets:
  - platform: qq
    cfg_platform:
      url: http://127.0.0.1:3000
      group_id: "123"
      block_until: "23:00-07:00"
connections:
  crawler-formatter:
    x-main: [fmt-img]
`

func TestDecodeYAMLAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("relay.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, DefaultForwarderCron, cfg.Forwarder.Cron)
	require.NotNil(t, cfg.Forwarder.Media)
	assert.Equal(t, DefaultMediaTool, cfg.Forwarder.Media.Use.Tool)
	assert.Equal(t, TaskTypeArticle, cfg.Crawlers[0].TaskType)
	assert.Equal(t, "*/5 * * * *", cfg.CrawlerForwarder(cfg.Crawlers[0]).Cron)
	assert.Equal(t, []string{"fmt-img"}, cfg.Connections.CrawlerFormatter["x-main"])
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("relay.json", []byte(`{"storage":{"path":"x"},"bogus":true}`))
	assert.Error(t, err)

	_, err = Decode("relay.json", []byte(`{"storage":{"path":"x"}}{}`))
	assert.Error(t, err)
}

func TestTargetIDIgnoresVolatileFields(t *testing.T) {
	t.Parallel()

	base := TargetConfig{Platform: "qq", CfgPlatform: TargetPlatformConfig{URL: "http://a", GroupID: "1"}}
	id := base.ResolvedID()
	assert.True(t, strings.HasPrefix(id, "qq-"))
	assert.Len(t, id, len("qq-")+targetIDHexLen)

	volatile := base
	volatile.CfgPlatform.BlockUntil = "2030-01-01T00:00:00Z"
	volatile.CfgPlatform.ReplaceRegex = [][]string{{"foo", "bar"}}
	assert.Equal(t, id, volatile.ResolvedID())

	other := base
	other.CfgPlatform.GroupID = "2"
	assert.NotEqual(t, id, other.ResolvedID())

	explicit := base
	explicit.ID = "main-group"
	assert.Equal(t, "main-group", explicit.ResolvedID())
}

func TestResolvedTargetsMergesDefaultsAndCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		TargetDefaults: TargetDefaults{BlockUntil: "01:00-02:00", ReplaceRegex: [][]string{{"a", "b"}}},
		Targets: []TargetConfig{
			{Platform: "QQ", CfgPlatform: TargetPlatformConfig{URL: "http://a", GroupID: "1"}},
			{Platform: "qq", CfgPlatform: TargetPlatformConfig{URL: "http://a", GroupID: "1", BlockUntil: "03:00-04:00"}},
		},
	}
	list, byID := cfg.ResolvedTargets()
	require.Len(t, list, 1)
	assert.Len(t, byID, 1)
	assert.Equal(t, "01:00-02:00", list[0].CfgPlatform.BlockUntil)
	assert.Equal(t, [][]string{{"a", "b"}}, list[0].CfgPlatform.ReplaceRegex)
}

func TestMergeForwarder(t *testing.T) {
	t.Parallel()

	base := ForwarderConfig{Cron: "*/30 * * * *", RenderType: "text", Media: &MediaToolConfig{Use: MediaToolUse{Tool: "default"}}}
	out := MergeForwarder(base, &ForwarderConfig{Keywords: []string{"live"}, Media: &MediaToolConfig{Use: MediaToolUse{Tool: "gallery-dl"}}})

	assert.Equal(t, "*/30 * * * *", out.Cron)
	assert.Equal(t, "text", out.RenderType)
	assert.Equal(t, []string{"live"}, out.Keywords)
	assert.Equal(t, "gallery-dl", out.Media.Use.Tool)
	assert.Equal(t, "default", base.Media.Use.Tool)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Storage: StorageConfig{Path: "db"},
		Crawlers: []CrawlerConfig{
			{Name: "a", Platform: "x", UIDs: []string{"u"}},
			{Name: "a", Platform: "myspace"},
		},
		Targets: []TargetConfig{
			{Platform: "fax"},
			{Platform: "qq", CfgPlatform: TargetPlatformConfig{ReplaceRegex: [][]string{{"("}}}},
		},
		Aggregations: []AggregationConfig{{Platform: "x", UID: "u", Target: "t", Processor: "missing"}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`crawlers[1].name "a" is duplicated`,
		`crawlers[1].platform "myspace"`,
		"crawlers[1].u_ids",
		`targets[0].platform "fax"`,
		"targets[1].cfg_platform.replace_regex[0]",
		`aggregations[0].processor "missing"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{
		Crawlers: []CrawlerConfig{{Name: "a", Platform: "x"}, {Name: "b", Platform: "x"}},
		Targets:  []TargetConfig{{Platform: "qq", CfgPlatform: TargetPlatformConfig{Token: "secret"}}},
	}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Crawlers: []CrawlerConfig{{Name: "a", Platform: "x", UIDs: []string{"u"}}, {Name: "c", Platform: "x"}},
		Targets:  []TargetConfig{{Platform: "qq", CfgPlatform: TargetPlatformConfig{Token: "rotated"}}},
	}

	changed, attrs, crawlers := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"crawlers", "logging", "targets"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"a", "b", "c"}, crawlers)

	changed, _, crawlers = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, crawlers)
}

func TestManagerLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	m := NewConfigManager(path)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	ch := m.Subscribe(1)
	m.publish(cfg)
	m.publish(cfg)
	assert.Same(t, cfg, <-ch)
	m.Unsubscribe(ch)
}
