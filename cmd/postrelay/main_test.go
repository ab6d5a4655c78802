package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
storage:
  path: %s
scheduler:
  enabled: true
crawlers:
  - name: news
    platform: x
    u_ids: [alice]
targets:
  - id: qq-main
    platform: qq
    cfg_platform:
      url: http://127.0.0.1:5700
      group_id: "1"
connections:
  forwarder-target:
    news: [qq-main]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := bytes.ReplaceAll([]byte(testConfig), []byte("%s"), []byte(filepath.Join(dir, "relay.db")))
	require.NoError(t, os.WriteFile(path, body, 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	out, err := run(t, "check", "-c", writeConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "ok: 1 crawlers, 1 targets, 0 aggregations\n", out)
}

func TestRouteCommand(t *testing.T) {
	out, err := run(t, "route", "news", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "qq-main")
	assert.Contains(t, out, "*/30 * * * *")
}

func TestCheckCommandMissingFile(t *testing.T) {
	_, err := run(t, "check", "-c", filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
