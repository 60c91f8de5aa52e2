// Package config loads Sentinel's runtime configuration from a YAML file
// with SENTINEL_-prefixed environment variable overrides, following the
// same viper-based layout as the rest of this retrieval pack's bots.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/sentinel-uhnw/sentinel/internal/gateway"
	"github.com/sentinel-uhnw/sentinel/internal/router"
	"github.com/sentinel-uhnw/sentinel/internal/utility"
	"github.com/sentinel-uhnw/sentinel/internal/workers"
)

// Config is the top-level configuration. Maps directly onto the YAML
// file's structure; nested sections bind into the package that owns them.
type Config struct {
	Scoring utility.ScoringConfig `mapstructure:"scoring"`
	Routing RoutingSettings       `mapstructure:"routing"`
	Gateway GatewaySettings       `mapstructure:"gateway"`
	Chain   ChainSettings         `mapstructure:"chain"`
	Logging LoggingConfig         `mapstructure:"logging"`
}

// RoutingSettings mirrors router.RoutingConfig field-for-field; Config
// keeps its own copy so decimal.Decimal values decode through the hook
// below rather than requiring router to know anything about viper.
type RoutingSettings struct {
	MarketCriticalMagnitude decimal.Decimal `mapstructure:"market_critical_magnitude"`
	MarketHighMagnitude     decimal.Decimal `mapstructure:"market_high_magnitude"`
	MarketHighExposure      decimal.Decimal `mapstructure:"market_high_exposure"`
	MarketNormalExposure    decimal.Decimal `mapstructure:"market_normal_exposure"`

	HeartbeatHighConcentrationExcess   decimal.Decimal `mapstructure:"heartbeat_high_concentration_excess"`
	HeartbeatNormalConcentrationExcess decimal.Decimal `mapstructure:"heartbeat_normal_concentration_excess"`
	HeartbeatDriftHighThreshold        decimal.Decimal `mapstructure:"heartbeat_drift_high_threshold"`
	HeartbeatDriftNormalThreshold      decimal.Decimal `mapstructure:"heartbeat_drift_normal_threshold"`
	HeartbeatTaxHarvestThreshold       decimal.Decimal `mapstructure:"heartbeat_tax_harvest_threshold"`
}

// ToRoutingConfig converts the decoded settings into the type router.Route
// actually consumes.
func (r RoutingSettings) ToRoutingConfig() router.RoutingConfig {
	return router.RoutingConfig{
		MarketCriticalMagnitude:            r.MarketCriticalMagnitude,
		MarketHighMagnitude:                r.MarketHighMagnitude,
		MarketHighExposure:                 r.MarketHighExposure,
		MarketNormalExposure:               r.MarketNormalExposure,
		HeartbeatHighConcentrationExcess:   r.HeartbeatHighConcentrationExcess,
		HeartbeatNormalConcentrationExcess: r.HeartbeatNormalConcentrationExcess,
		HeartbeatDriftHighThreshold:        r.HeartbeatDriftHighThreshold,
		HeartbeatDriftNormalThreshold:      r.HeartbeatDriftNormalThreshold,
		HeartbeatTaxHarvestThreshold:       r.HeartbeatTaxHarvestThreshold,
	}
}

// GatewaySettings tunes the event gateway's polling loop and worker pool.
type GatewaySettings struct {
	IdlePollInterval time.Duration `mapstructure:"idle_poll_interval"`
	PoolWorkers      int           `mapstructure:"pool_workers"`
	PoolQueueSize    int           `mapstructure:"pool_queue_size"`
}

// ToGatewayConfig builds a gateway.Config, falling back to
// gateway.DefaultConfig's pool sizing when PoolWorkers/PoolQueueSize are
// left at zero.
func (g GatewaySettings) ToGatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	if g.IdlePollInterval > 0 {
		cfg.IdlePollInterval = g.IdlePollInterval
	}
	if g.PoolWorkers > 0 {
		cfg.Pool.NumWorkers = g.PoolWorkers
	}
	if g.PoolQueueSize > 0 {
		cfg.Pool.QueueSize = g.PoolQueueSize
	}
	return cfg
}

// ChainSettings controls where the audit chain persists its blocks.
type ChainSettings struct {
	PersistPath string `mapstructure:"persist_path"`
	AutoPersist bool   `mapstructure:"auto_persist"`
}

// LoggingConfig mirrors the teacher's command-line log level flag so the
// same setting can come from YAML/env instead.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns baseline configuration equivalent to calling each
// package's own DefaultConfig/DefaultScoringConfig.
func Default() Config {
	defaultRouting := router.DefaultConfig()
	return Config{
		Scoring: utility.DefaultScoringConfig(),
		Routing: RoutingSettings{
			MarketCriticalMagnitude:            defaultRouting.MarketCriticalMagnitude,
			MarketHighMagnitude:                defaultRouting.MarketHighMagnitude,
			MarketHighExposure:                 defaultRouting.MarketHighExposure,
			MarketNormalExposure:               defaultRouting.MarketNormalExposure,
			HeartbeatHighConcentrationExcess:   defaultRouting.HeartbeatHighConcentrationExcess,
			HeartbeatNormalConcentrationExcess: defaultRouting.HeartbeatNormalConcentrationExcess,
			HeartbeatDriftHighThreshold:        defaultRouting.HeartbeatDriftHighThreshold,
			HeartbeatDriftNormalThreshold:      defaultRouting.HeartbeatDriftNormalThreshold,
			HeartbeatTaxHarvestThreshold:       defaultRouting.HeartbeatTaxHarvestThreshold,
		},
		Gateway: GatewaySettings{
			IdlePollInterval: gateway.DefaultConfig().IdlePollInterval,
			PoolWorkers:      workers.DefaultPoolConfig("gateway").NumWorkers,
			PoolQueueSize:    workers.DefaultPoolConfig("gateway").QueueSize,
		},
		Chain: ChainSettings{
			PersistPath: "./data/chain.json",
			AutoPersist: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads config from a YAML file, applies SENTINEL_-prefixed
// environment variable overrides, and unmarshals into Config. path may
// point at a file that does not yet exist; in that case the defaults are
// returned with only environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	setDefaults(v, "", def)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToDecimalHookFunc,
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// stringToDecimalHookFunc lets viper bind YAML/env string and numeric
// scalars onto decimal.Decimal fields; mapstructure has no built-in
// support for shopspring/decimal's TextUnmarshaler.
func stringToDecimalHookFunc(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return decimal.NewFromString(data.(string))
	case reflect.Float32, reflect.Float64:
		return decimal.NewFromFloat(reflect.ValueOf(data).Float()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(reflect.ValueOf(data).Int()), nil
	default:
		return data, nil
	}
}

// setDefaults registers def's fields as viper defaults under dotted keys
// built from each field's mapstructure tag, so ReadInConfig missing the
// file (or the file omitting a section) still leaves Default()'s values
// in place rather than zero values.
func setDefaults(v *viper.Viper, prefix string, val any) {
	rv := reflect.ValueOf(val)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(decimal.Decimal{}) {
			setDefaults(v, key, fv.Interface())
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}
