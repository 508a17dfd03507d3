package core

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

type EventType string

const (
	EventUserCreated EventType = "user.created"
	EventUserUpdated EventType = "user.updated"
	EventUserDeleted EventType = "user.deleted"
)

// SupportedEventTypes is the closed set of identity-provider lifecycle events.
func SupportedEventTypes() []EventType {
	return []EventType{EventUserCreated, EventUserUpdated, EventUserDeleted}
}

func IsSupportedEventType(eventType EventType) bool {
	return slices.Contains(SupportedEventTypes(), EventType(strings.TrimSpace(string(eventType))))
}

// Headers is a canonical header lookup keyed by lowercase header name.
type Headers map[string]string

// NewHeaders folds multi-valued and case-variant headers into a single lookup.
// Names are visited in sorted order and the first non-empty value wins for
// each canonical name, so "Svix-Id" takes precedence over "svix-id".
func NewHeaders(raw map[string][]string) Headers {
	headers := make(Headers, len(raw))
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		values := raw[name]
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if existing := headers[key]; existing != "" {
			continue
		}
		for _, value := range values {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				headers[key] = trimmed
				break
			}
		}
	}
	return headers
}

func (h Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(strings.TrimSpace(name))]
}

func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	out := make(Headers, len(h))
	for key, value := range h {
		out[key] = value
	}
	return out
}

// Envelope is the raw transport unit of one inbound webhook request.
// RawBody holds the exact received bytes and is the only valid input for
// signature computation.
type Envelope struct {
	RawBody     []byte
	Headers     Headers
	QueryParams map[string]string
}

func (e Envelope) Clone() Envelope {
	return Envelope{
		RawBody:     append([]byte(nil), e.RawBody...),
		Headers:     e.Headers.Clone(),
		QueryParams: copyStringMap(e.QueryParams),
	}
}

// CanonicalEvent is the typed, routable view of an inbound webhook.
type CanonicalEvent struct {
	EventType  EventType
	EventID    string
	Object     string
	InstanceID string
	OccurredAt time.Time
	Data       json.RawMessage
	Payload    Envelope
}

// EventKey identifies the underlying delivery for idempotent run creation.
func (e CanonicalEvent) EventKey() string {
	return strings.TrimSpace(e.EventID)
}

type VerificationOutcome struct {
	Verified  bool      `json:"verified"`
	MessageID string    `json:"message_id,omitempty"`
	SignedAt  time.Time `json:"signed_at,omitempty"`
}

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepRecord is the memoized outcome of one named step inside a run.
type StepRecord struct {
	ID        string
	RunID     string
	Name      string
	Position  int
	Status    StepStatus
	Attempts  int
	Result    json.RawMessage
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RunStatus string

const (
	RunStatusPending           RunStatus = "pending"
	RunStatusRunning           RunStatus = "running"
	RunStatusSuspended         RunStatus = "suspended"
	RunStatusCompleted         RunStatus = "completed"
	RunStatusPermanentlyFailed RunStatus = "permanently_failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusPermanentlyFailed
}

// RunRecord is one durable run of a function for one event.
type RunRecord struct {
	ID            string
	FunctionID    string
	EventKey      string
	EventType     EventType
	Status        RunStatus
	Attempts      int
	NextAttemptAt *time.Time
	LastError     string
	ErrorCode     string
	Envelope      Envelope
	Output        json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HandlerResult is the structured outcome reported for a dispatched event.
type HandlerResult struct {
	FunctionID string          `json:"function_id"`
	RunID      string          `json:"run_id"`
	EventType  EventType       `json:"event_type"`
	Status     RunStatus       `json:"status"`
	Replayed   bool            `json:"replayed,omitempty"`
	Attempt    int             `json:"attempt"`
	RetryAt    *time.Time      `json:"retry_at,omitempty"`
	NoRetry    bool            `json:"no_retry,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
}

type FunctionDescriptor struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Event EventType `json:"event"`
	Steps []string  `json:"steps"`
}

// FunctionCatalog is the registered function set reported to schedulers.
type FunctionCatalog struct {
	AppID         string               `json:"app_id"`
	FunctionCount int                  `json:"function_count"`
	Functions     []FunctionDescriptor `json:"functions"`
}

// UserAttributes are the persisted fields derived from an identity-provider user.
type UserAttributes struct {
	Name     string
	ImageURL string
	Email    string
}

type User struct {
	ID        string
	Name      string
	ImageURL  string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserSyncMessage is fanned out to downstream consumers after persistence.
type UserSyncMessage struct {
	EventID    string         `json:"event_id"`
	EventType  EventType      `json:"event_type"`
	UserID     string         `json:"user_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
