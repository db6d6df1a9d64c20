package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmmc/ncmdump/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, &config.Config{
		LogLevel:       "info",
		NamingTemplate: config.DefaultNamingTemplate,
		EmbedTags:      true,
		Workers:        4,
		DecodeWorkers:  1,
	}, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func TestLoadFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
output_dir: /tmp/out
workers: 2
write_cover: true
`), 0o600))

	cfg, err := config.Load(path, map[string]any{"workers": 8, "embed_tags": false})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.True(t, cfg.WriteCover)
	assert.False(t, cfg.EmbedTags)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := config.Load("", map[string]any{"log_level": "loud"})
	assert.Error(t, err)

	_, err = config.Load("", map[string]any{"workers": 0})
	assert.Error(t, err)

	_, err = config.Load("", map[string]any{"decode_workers": -1})
	assert.Error(t, err)
}
