package durable

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-userhooks/core"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-userhooks/durable"

// Client carries the collaborators shared by the registry and the executor.
// It is built once at process start and passed explicitly; it owns no
// resources and needs no teardown.
type Client struct {
	appID       string
	store       core.RunStore
	scheduler   core.Scheduler
	retry       RetryPolicy
	maxAttempts int
	now         func() time.Time
	newID       func() string
	observer    core.Observer
	tracer      trace.Tracer
}

type ClientOption func(*Client)

func WithScheduler(scheduler core.Scheduler) ClientOption {
	return func(c *Client) {
		c.scheduler = scheduler
	}
}

func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		if policy != nil {
			c.retry = policy
		}
	}
}

func WithMaxAttempts(attempts int) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithIDGenerator(newID func() string) ClientOption {
	return func(c *Client) {
		if newID != nil {
			c.newID = newID
		}
	}
}

func WithObserver(observer core.Observer) ClientOption {
	return func(c *Client) {
		c.observer = observer
	}
}

func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func NewClient(appID string, store core.RunStore, opts ...ClientOption) (*Client, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, fmt.Errorf("durable: app id is required")
	}
	if store == nil {
		return nil, fmt.Errorf("durable: run store is required")
	}
	client := &Client{
		appID:       appID,
		store:       store,
		retry:       ExponentialRetryPolicy{},
		maxAttempts: core.DefaultMaxAttempts,
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID:    uuid.NewString,
		observer: core.NewObserver(nil, nil),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(client)
	}
	return client, nil
}

func (c *Client) AppID() string {
	if c == nil {
		return ""
	}
	return c.appID
}

func (c *Client) Store() core.RunStore {
	if c == nil {
		return nil
	}
	return c.store
}

func (c *Client) Observer() core.Observer {
	if c == nil {
		return core.NewObserver(nil, nil)
	}
	return c.observer
}

func (c *Client) currentTime() time.Time {
	if c != nil && c.now != nil {
		return c.now().UTC()
	}
	return time.Now().UTC()
}
