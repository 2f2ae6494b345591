package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinykern/kcore/heap"
	"github.com/tinykern/kcore/internal/bytesize"
	"github.com/tinykern/kcore/memutils/metadata"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "kcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NoError(t, Validate(Default()))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
heap:
  base: "0x10000"
  size: 1Mi
  strategy: best-fit
  track_ownership: true
fs:
  root_anchored_io: true
shell:
  timezone_offset: 9
logging:
  level: debug
  format: json
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, heap.Address(0x10000), cfg.Heap.Base)
	require.Equal(t, bytesize.MiB, cfg.Heap.Size)
	require.Equal(t, "best-fit", cfg.Heap.Strategy)
	require.True(t, cfg.Heap.TrackOwnership)
	require.False(t, cfg.Heap.ExternallySynchronized)
	require.True(t, cfg.FS.RootAnchoredIO)
	require.Equal(t, 9, cfg.Shell.TimezoneOffset)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.True(t, cfg.Metrics.Enabled)

	strategy, err := cfg.Heap.AllocationStrategy()
	require.NoError(t, err)
	require.Equal(t, metadata.AllocationStrategyBestFit, strategy)
	require.Equal(t, heap.AllocatorCreateTrackOwnership, cfg.Heap.CreateFlags())
}

func TestLoadNumericValues(t *testing.T) {
	path := writeConfig(t, `
heap:
  base: 8192
  size: 4096
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, heap.Address(8192), cfg.Heap.Base)
	require.Equal(t, bytesize.ByteSize(4096), cfg.Heap.Size)
	require.Equal(t, "first-fit", cfg.Heap.Strategy)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("KCORE_HEAP_SIZE", "64Ki")
	t.Setenv("KCORE_LOGGING_LEVEL", "ERROR")
	t.Setenv("KCORE_HEAP_EXTERNALLY_SYNCHRONIZED", "true")
	t.Setenv("KCORE_SHELL_TIMEZONE_OFFSET", "-5")

	path := writeConfig(t, `
heap:
  size: 1Mi
logging:
  level: INFO
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 64*bytesize.KiB, cfg.Heap.Size)
	require.Equal(t, "ERROR", cfg.Logging.Level)
	require.Equal(t, heap.AllocatorCreateExternallySynchronized, cfg.Heap.CreateFlags())
	require.Equal(t, -5, cfg.Shell.TimezoneOffset)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "heap:\n  size: lots\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "heap:\n  base: nowhere\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "misaligned base", mutate: func(cfg *Config) { cfg.Heap.Base = 0x1001 }},
		{name: "zero base", mutate: func(cfg *Config) { cfg.Heap.Base = 0 }},
		{name: "tiny heap", mutate: func(cfg *Config) { cfg.Heap.Size = 4 }},
		{name: "unknown strategy", mutate: func(cfg *Config) { cfg.Heap.Strategy = "worst-fit" }},
		{name: "unknown level", mutate: func(cfg *Config) { cfg.Logging.Level = "loud" }},
		{name: "unknown format", mutate: func(cfg *Config) { cfg.Logging.Format = "xml" }},
		{name: "timezone east of range", mutate: func(cfg *Config) { cfg.Shell.TimezoneOffset = 15 }},
		{name: "timezone west of range", mutate: func(cfg *Config) { cfg.Shell.TimezoneOffset = -13 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}

func TestAllocationStrategyUnknown(t *testing.T) {
	_, err := HeapConfig{Strategy: "worst-fit"}.AllocationStrategy()
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = NewLogger(LoggingConfig{Level: "DEBUG", Format: "text"}, &buf)
	require.NoError(t, err)
	logger.Debug("visible")
	require.Contains(t, buf.String(), "msg=visible")

	_, err = NewLogger(LoggingConfig{Level: "loud", Format: "text"}, &buf)
	require.Error(t, err)
	_, err = NewLogger(LoggingConfig{Level: "info", Format: "xml"}, &buf)
	require.Error(t, err)
}
