//go:build linux

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/srodi/oncpu-bpf/pkg/config"
)

func parseFlags(t *testing.T, args ...string) (*pflag.FlagSet, string, config.Config) {
	t.Helper()
	var cfgFile string
	cfg := config.Default()
	fs := pflag.NewFlagSet("oncpu", pflag.ContinueOnError)
	bindFlags(fs, &cfgFile, &cfg)
	require.NoError(t, fs.Parse(args))
	return fs, cfgFile, cfg
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oncpu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: 2s\ntopk: 9\noutput: json\ncapacity: 128\n"), 0o644))

	fs, cfgFile, flags := parseFlags(t, "--config", path, "--topk", "3", "--overflow-policy", "Evict")
	cfg, err := resolveConfig(fs, cfgFile, flags)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Interval, "file value kept")
	assert.Equal(t, 3, cfg.TopK, "flag wins over file")
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, 128, cfg.Capacity)
	assert.Equal(t, "evict", cfg.OverflowPolicy)
}

func TestResolveConfigRejectsInvalidValues(t *testing.T) {
	fs, cfgFile, flags := parseFlags(t, "--capacity", "0", "--output", "xml")
	_, err := resolveConfig(fs, cfgFile, flags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
	assert.Contains(t, err.Error(), "output")
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := newLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = newLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = newLogger("chatty")
	assert.Error(t, err)
}
