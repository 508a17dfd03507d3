package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const DefaultEnvPrefix = "USERHOOKS_"

var (
	durationConfigKeys = []string{"webhook.tolerance", "webhook.burst_window", "runs.initial_backoff", "runs.max_backoff"}
	intConfigKeys      = []string{"webhook.max_body_bytes", "runs.max_attempts"}
	boolConfigKeys     = []string{"database.debug", "telemetry.enabled"}
)

// KoanfLoader reads an optional YAML file and then the environment.
// Environment keys use "__" for nesting: USERHOOKS_WEBHOOK__SIGNING_SECRET.
type KoanfLoader struct {
	FilePath  string
	EnvPrefix string
}

func (l KoanfLoader) LoadRaw(context.Context) (map[string]any, error) {
	k := koanf.New(".")

	if path := strings.TrimSpace(l.FilePath); path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("core: load config file %s: %w", path, err)
			}
		}
	}

	prefix := l.EnvPrefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("core: load environment config: %w", err)
	}

	// values from env and yaml arrive as strings; coerce typed keys here
	for _, key := range durationConfigKeys {
		if k.Exists(key) {
			if err := k.Set(key, k.Duration(key)); err != nil {
				return nil, fmt.Errorf("core: coerce %s: %w", key, err)
			}
		}
	}
	for _, key := range intConfigKeys {
		if k.Exists(key) {
			if err := k.Set(key, k.Int64(key)); err != nil {
				return nil, fmt.Errorf("core: coerce %s: %w", key, err)
			}
		}
	}
	for _, key := range boolConfigKeys {
		if k.Exists(key) {
			if err := k.Set(key, k.Bool(key)); err != nil {
				return nil, fmt.Errorf("core: coerce %s: %w", key, err)
			}
		}
	}

	return k.Raw(), nil
}
