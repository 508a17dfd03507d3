package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-userhooks/core"
)

// Request is one inbound webhook as received from the transport.
// Headers and Query accept http.Header and url.Values directly.
type Request struct {
	Headers map[string][]string
	Body    []byte
	Query   map[string][]string
}

// EventTypeSet reports which event types have a registered handler.
type EventTypeSet interface {
	Has(eventType core.EventType) bool
}

type EventTypeSetFunc func(eventType core.EventType) bool

func (f EventTypeSetFunc) Has(eventType core.EventType) bool {
	return f(eventType)
}

type Normalizer struct {
	Known EventTypeSet
}

// NewNormalizer validates event types against known. A nil set falls back to
// the closed set of supported lifecycle events.
func NewNormalizer(known EventTypeSet) *Normalizer {
	return &Normalizer{Known: known}
}

type payloadHead struct {
	Type       string          `json:"type"`
	EventType  string          `json:"eventType"`
	Object     string          `json:"object"`
	Timestamp  int64           `json:"timestamp"`
	InstanceID string          `json:"instance_id"`
	Data       json.RawMessage `json:"data"`
}

func (n *Normalizer) Normalize(_ context.Context, req Request) (core.CanonicalEvent, error) {
	body := bytes.TrimSpace(req.Body)
	if len(body) == 0 {
		return core.CanonicalEvent{}, core.MalformedEnvelope("webhook body is empty", nil)
	}
	if body[0] != '{' {
		return core.CanonicalEvent{}, core.MalformedEnvelope("webhook body must be a JSON object", nil)
	}

	var head payloadHead
	if err := json.Unmarshal(body, &head); err != nil {
		return core.CanonicalEvent{}, core.MalformedEnvelope(
			"webhook body is not a valid event payload",
			map[string]any{"cause": err.Error()},
		)
	}

	rawType := strings.TrimSpace(head.Type)
	if rawType == "" {
		rawType = strings.TrimSpace(head.EventType)
	}
	if rawType == "" {
		return core.CanonicalEvent{}, core.MalformedEnvelope("webhook event type field is required", nil)
	}
	eventType := core.EventType(rawType)
	if !n.known(eventType) {
		return core.CanonicalEvent{}, core.UnknownEventType(rawType)
	}

	headers := core.NewHeaders(req.Headers)
	event := core.CanonicalEvent{
		EventType:  eventType,
		EventID:    firstHeader(headers, "svix-id", "webhook-id"),
		Object:     strings.TrimSpace(head.Object),
		InstanceID: strings.TrimSpace(head.InstanceID),
		Data:       append(json.RawMessage(nil), head.Data...),
		Payload: core.Envelope{
			RawBody:     append([]byte(nil), req.Body...),
			Headers:     headers,
			QueryParams: flattenQuery(req.Query),
		},
	}
	if head.Timestamp > 0 {
		event.OccurredAt = time.UnixMilli(head.Timestamp).UTC()
	}
	return event, nil
}

// FromEnvelope rebuilds a canonical event from a persisted envelope.
func (n *Normalizer) FromEnvelope(ctx context.Context, envelope core.Envelope) (core.CanonicalEvent, error) {
	headers := make(map[string][]string, len(envelope.Headers))
	for key, value := range envelope.Headers {
		headers[key] = []string{value}
	}
	query := make(map[string][]string, len(envelope.QueryParams))
	for key, value := range envelope.QueryParams {
		query[key] = []string{value}
	}
	return n.Normalize(ctx, Request{Headers: headers, Body: envelope.RawBody, Query: query})
}

func (n *Normalizer) known(eventType core.EventType) bool {
	if n == nil || n.Known == nil {
		return core.IsSupportedEventType(eventType)
	}
	return n.Known.Has(eventType)
}

func firstHeader(headers core.Headers, names ...string) string {
	for _, name := range names {
		if value := headers.Get(name); value != "" {
			return value
		}
	}
	return ""
}

func flattenQuery(query map[string][]string) map[string]string {
	out := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
