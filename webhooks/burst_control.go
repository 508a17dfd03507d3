package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-userhooks/core"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
	BurstModeDebounce BurstMode = "debounce"
)

type BurstDecision struct {
	Allow    bool
	Metadata map[string]any
}

// BurstController decides whether a delivery should reach the pipeline when
// the same message arrives again within a short window. Only deliveries the
// pipeline accepted are recorded, so a failed or rejected attempt never
// suppresses the next one.
type BurstController interface {
	Allow(ctx context.Context, headers core.Headers) (BurstDecision, error)
	Record(ctx context.Context, headers core.Headers) error
}

type BurstKeyExtractor func(headers core.Headers) (string, bool)

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	extractKey := opts.ExtractKey
	if extractKey == nil {
		extractKey = DefaultBurstKeyExtractor
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DefaultBurstController{
		mode:       ParseBurstMode(string(opts.Mode)),
		window:     window,
		maxEntries: maxEntries,
		extractKey: extractKey,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

// Allow rejects a delivery whose message id was accepted less than one
// window ago. Coalesce keeps the accepted sighting as the window start;
// debounce restarts the window on every suppressed sighting.
func (c *DefaultBurstController) Allow(_ context.Context, headers core.Headers) (BurstDecision, error) {
	key, ok := c.key(headers)
	if !ok {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	lastSeen, exists := c.entries[key]
	if !exists || now.Sub(lastSeen) >= c.window {
		return BurstDecision{Allow: true}, nil
	}

	metadata := map[string]any{
		"burst_mode":      string(c.mode),
		"burst_key":       key,
		"burst_window_ms": c.window.Milliseconds(),
	}
	switch c.mode {
	case BurstModeCoalesce:
		metadata["coalesced"] = true
	case BurstModeDebounce:
		c.entries[key] = now
		metadata["debounced"] = true
	}
	c.cleanup(now)
	return BurstDecision{Allow: false, Metadata: metadata}, nil
}

// Record marks the message id of an accepted delivery. A sighting already
// inside its window is kept so coalesce windows are not extended.
func (c *DefaultBurstController) Record(_ context.Context, headers core.Headers) error {
	key, ok := c.key(headers)
	if !ok {
		return nil
	}
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if lastSeen, exists := c.entries[key]; !exists || now.Sub(lastSeen) >= c.window {
		c.entries[key] = now
	}
	c.cleanup(now)
	return nil
}

func (c *DefaultBurstController) key(headers core.Headers) (string, bool) {
	if c == nil || c.mode == BurstModeNone {
		return "", false
	}
	key, ok := c.extractKey(headers)
	key = strings.TrimSpace(key)
	return key, ok && key != ""
}

func (c *DefaultBurstController) cleanup(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		for key, seenAt := range c.entries {
			if now.Sub(seenAt) > c.window*4 {
				delete(c.entries, key)
			}
		}
		return
	}
	for key, seenAt := range c.entries {
		if now.Sub(seenAt) > c.window {
			delete(c.entries, key)
		}
		if len(c.entries) <= c.maxEntries {
			break
		}
	}
}

// DefaultBurstKeyExtractor keys deliveries by their provider message id.
func DefaultBurstKeyExtractor(headers core.Headers) (string, bool) {
	for _, prefix := range DefaultHeaderPrefixes {
		if value := strings.TrimSpace(headers.Get(prefix + "-id")); value != "" {
			return value, true
		}
	}
	return "", false
}

func ParseBurstMode(mode string) BurstMode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(BurstModeCoalesce):
		return BurstModeCoalesce
	case string(BurstModeDebounce):
		return BurstModeDebounce
	default:
		return BurstModeNone
	}
}

var _ BurstController = (*DefaultBurstController)(nil)
