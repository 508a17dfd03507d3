package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-userhooks/command"
	"github.com/goliatone/go-userhooks/core"
	"github.com/goliatone/go-userhooks/query"
	"github.com/goliatone/go-userhooks/webhooks"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Service is what the HTTP surface needs from the pipeline.
// registry.Registry satisfies it.
type Service interface {
	command.WebhookIngester
	command.RunResumer
	query.FunctionCatalog
}

type Config struct {
	WebhookPath  string
	ServePath    string
	MaxBodyBytes int64
	ServiceName  string
}

func ConfigFrom(cfg core.Config) Config {
	return Config{
		WebhookPath:  cfg.HTTP.WebhookPath,
		ServePath:    cfg.HTTP.ServePath,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		ServiceName:  cfg.AppID,
	}
}

type Option func(*Server)

func WithLogger(logger core.Logger) Option {
	return func(s *Server) {
		s.observer = core.NewObserver(glog.Ensure(logger), nil)
	}
}

// WithBurstController short-circuits repeated deliveries of the same message
// before they reach the pipeline.
func WithBurstController(controller webhooks.BurstController) Option {
	return func(s *Server) {
		s.burst = controller
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

type Server struct {
	cfg      Config
	ingest   *command.IngestWebhookCommand
	resume   *command.ResumeRunCommand
	catalog  *query.ListFunctionsQuery
	burst    webhooks.BurstController
	observer core.Observer
	now      func() time.Time
}

func NewServer(cfg Config, service Service, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("httpapi: service is required")
	}
	cfg.WebhookPath = strings.TrimSpace(cfg.WebhookPath)
	cfg.ServePath = strings.TrimSpace(cfg.ServePath)
	if cfg.WebhookPath == "" || cfg.ServePath == "" {
		return nil, fmt.Errorf("httpapi: webhook and serve paths are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = core.DefaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "userhooks"
	}
	s := &Server{
		cfg:      cfg,
		ingest:   command.NewIngestWebhookCommand(service),
		resume:   command.NewResumeRunCommand(service),
		catalog:  query.NewListFunctionsQuery(service),
		observer: core.NewObserver(nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Router mounts the webhook route and the serve endpoint behind request id,
// real ip, panic recovery and OpenTelemetry instrumentation.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, s.cfg.ServiceName)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(s.cfg.WebhookPath, s.handleWebhook)
	r.Get(s.cfg.ServePath, s.handleServeList)
	r.Put(s.cfg.ServePath, s.handleServeSync)
	r.Post(s.cfg.ServePath, s.handleServeExecute)
	return r
}
