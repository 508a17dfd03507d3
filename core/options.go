package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed raw configuration map.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// GoOptionsResolver layers defaults < loaded config < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig loads configuration through provider and layers runtime
// overrides on top.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	section := func(key string) map[string]any {
		if existing, ok := layer[key].(map[string]any); ok {
			return existing
		}
		created := map[string]any{}
		layer[key] = created
		return created
	}

	setString(layer, "app_id", cfg.AppID)

	webhook := section("webhook")
	setString(webhook, "signing_secret", cfg.Webhook.SigningSecret)
	if includeZero || cfg.Webhook.Tolerance > 0 {
		webhook["tolerance"] = cfg.Webhook.Tolerance
	}
	if includeZero || cfg.Webhook.MaxBodyBytes > 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	setString(webhook, "burst_mode", cfg.Webhook.BurstMode)
	if includeZero || cfg.Webhook.BurstWindow > 0 {
		webhook["burst_window"] = cfg.Webhook.BurstWindow
	}

	runs := section("runs")
	if includeZero || cfg.Runs.MaxAttempts > 0 {
		runs["max_attempts"] = cfg.Runs.MaxAttempts
	}
	if includeZero || cfg.Runs.InitialBackoff > 0 {
		runs["initial_backoff"] = cfg.Runs.InitialBackoff
	}
	if includeZero || cfg.Runs.MaxBackoff > 0 {
		runs["max_backoff"] = cfg.Runs.MaxBackoff
	}

	httpSection := section("http")
	setString(httpSection, "addr", cfg.HTTP.Addr)
	setString(httpSection, "serve_path", cfg.HTTP.ServePath)
	setString(httpSection, "webhook_path", cfg.HTTP.WebhookPath)

	database := section("database")
	setString(database, "driver", cfg.Database.Driver)
	setString(database, "dsn", cfg.Database.DSN)
	if includeZero || cfg.Database.Debug {
		database["debug"] = cfg.Database.Debug
	}

	broker := section("broker")
	setString(broker, "url", cfg.Broker.URL)
	setString(broker, "exchange", cfg.Broker.Exchange)

	setString(section("log"), "level", cfg.Log.Level)

	if includeZero || cfg.Telemetry.Enabled {
		section("telemetry")["enabled"] = cfg.Telemetry.Enabled
	}

	for key, value := range layer {
		if nested, ok := value.(map[string]any); ok && len(nested) == 0 {
			delete(layer, key)
		}
	}
	return layer
}
