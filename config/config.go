// Package config loads kcore settings from defaults, an optional config file, and KCORE_*
// environment variables, in increasing order of precedence.
package config

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/tinykern/kcore/heap"
	"github.com/tinykern/kcore/internal/bytesize"
	"github.com/tinykern/kcore/memutils/metadata"
)

// EnvPrefix is prepended to every environment variable override, e.g. KCORE_HEAP_SIZE=1Mi
const EnvPrefix = "KCORE"

type Config struct {
	Heap    HeapConfig    `mapstructure:"heap" yaml:"heap"`
	FS      FSConfig      `mapstructure:"fs" yaml:"fs"`
	Shell   ShellConfig   `mapstructure:"shell" yaml:"shell"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// HeapConfig describes the region handed to the allocator at boot
type HeapConfig struct {
	// Base is the first address of the heap region. Hex strings such as "0x444444440000" are
	// accepted.
	Base heap.Address `mapstructure:"base" validate:"required,region_aligned" yaml:"base"`

	// Size of the heap region, e.g. "100Ki"
	Size bytesize.ByteSize `mapstructure:"size" validate:"required,min=8" yaml:"size"`

	// Strategy used by the fallback arena: first-fit or best-fit
	Strategy string `mapstructure:"strategy" validate:"required,oneof=first-fit best-fit" yaml:"strategy"`

	TrackOwnership         bool `mapstructure:"track_ownership" yaml:"track_ownership"`
	ExternallySynchronized bool `mapstructure:"externally_synchronized" yaml:"externally_synchronized"`
}

type FSConfig struct {
	// RootAnchoredIO makes file reads and writes address a flat name under the root
	RootAnchoredIO bool `mapstructure:"root_anchored_io" yaml:"root_anchored_io"`
}

type ShellConfig struct {
	// TimezoneOffset is the whole-hour offset from UTC used by the time command
	TimezoneOffset int `mapstructure:"timezone_offset" validate:"min=-12,max=14" yaml:"timezone_offset"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

var defaults = map[string]any{
	"heap.base":                    "0x444444440000",
	"heap.size":                    "100Ki",
	"heap.strategy":                metadata.AllocationStrategyFirstFit.String(),
	"heap.track_ownership":         false,
	"heap.externally_synchronized": false,
	"fs.root_anchored_io":          false,
	"shell.timezone_offset":        0,
	"logging.level":                "INFO",
	"logging.format":               "text",
	"metrics.enabled":              false,
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Heap: HeapConfig{
			Base:     0x4444_4444_0000,
			Size:     100 * bytesize.KiB,
			Strategy: metadata.AllocationStrategyFirstFit.String(),
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load reads the config file at path, if one is given, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate checks field constraints, including that the heap base is aligned to
// heap.RegionAlignment.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.RegisterValidation("region_aligned", func(fl validator.FieldLevel) bool {
		return fl.Field().Uint()%heap.RegionAlignment == 0
	}); err != nil {
		return err
	}

	return validate.Struct(cfg)
}

// AllocationStrategy returns the fallback arena strategy named by the heap config
func (c HeapConfig) AllocationStrategy() (metadata.AllocationStrategy, error) {
	strategy, ok := metadata.ParseAllocationStrategy(c.Strategy)
	if !ok {
		return strategy, errors.Newf("unknown allocation strategy %q", c.Strategy)
	}
	return strategy, nil
}

// CreateFlags translates the heap config into allocator creation flags
func (c HeapConfig) CreateFlags() heap.CreateFlags {
	var flags heap.CreateFlags
	if c.TrackOwnership {
		flags |= heap.AllocatorCreateTrackOwnership
	}
	if c.ExternallySynchronized {
		flags |= heap.AllocatorCreateExternallySynchronized
	}
	return flags
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		addressDecodeHook(),
	)
}

// byteSizeDecodeHook accepts sizes written as "100Ki" or "4MB" as well as plain numbers
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// addressDecodeHook accepts addresses in decimal, or in hex with a 0x prefix
func addressDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(heap.Address(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			value, err := strconv.ParseUint(strings.ReplaceAll(v, "_", ""), 0, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid address %q", v)
			}
			return heap.Address(value), nil
		case int:
			return heap.Address(v), nil
		case int64:
			return heap.Address(v), nil
		case uint64:
			return heap.Address(v), nil
		case float64:
			return heap.Address(v), nil
		default:
			return data, nil
		}
	}
}
