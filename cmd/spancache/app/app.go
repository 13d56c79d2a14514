package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"gopkg.in/yaml.v3"

	"github.com/grafana/spancache/modules/receiver"
	"github.com/grafana/spancache/modules/spancache"
	"github.com/grafana/spancache/pkg/finalizer"
	"github.com/grafana/spancache/pkg/util/log"
)

const (
	metricsNamespace = "spancache"

	// module names
	Server    = "server"
	SpanCache = "span-cache"
)

// App is the root datastructure.
type App struct {
	cfg Config

	server    *server.Server
	spanCache *spancache.SpanCache
	finalizer finalizer.Multi

	serviceMap map[string]services.Service
}

// New makes a new app.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app := &App{
		cfg: cfg,
	}

	var err error
	app.finalizer, err = finalizer.New(cfg.Finalizer, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create finalizer: %w", err)
	}

	app.spanCache, err = spancache.New(cfg.SpanCache, app.finalizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create span cache: %w", err)
	}

	if err := app.initServer(); err != nil {
		return nil, err
	}

	recv := receiver.New(cfg.Receiver, app.spanCache)
	recv.RegisterRoutes(app.server.HTTP)
	recv.RegisterGRPC(app.server.GRPC)

	return app, nil
}

func (t *App) initServer() error {
	t.cfg.Server.MetricsNamespace = metricsNamespace
	t.cfg.Server.ExcludeRequestInLog = true
	if t.cfg.Server.Log == nil {
		t.cfg.Server.Log = log.Logger
	}

	DisableSignalHandling(&t.cfg.Server)

	serv, err := server.New(t.cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	t.server = serv
	return nil
}

// Run starts, and blocks until a signal is received.
func (t *App) Run() error {
	t.serviceMap = map[string]services.Service{
		SpanCache: t.spanCache,
	}
	// the server stays up until the span cache has finalized every trace
	t.serviceMap[Server] = NewServerService(t.server, func() []services.Service {
		return []services.Service{t.spanCache}
	})

	servs := []services.Service(nil)
	for _, s := range t.serviceMap {
		servs = append(servs, s)
	}

	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	// before starting servers, register /ready and /config handlers.
	t.server.HTTP.Path("/config").Handler(t.configHandler())
	t.server.HTTP.Path("/ready").Handler(t.readyHandler(sm))

	// Let's listen for events from this manager, and log them.
	healthy := func() { level.Info(log.Logger).Log("msg", "spancache started") }
	stopped := func() { level.Info(log.Logger).Log("msg", "spancache stopped") }
	serviceFailed := func(service services.Service) {
		// if any service fails, stop everything
		sm.StopAsync()

		// let's find out which module failed
		for m, s := range t.serviceMap {
			if s == service {
				level.Error(log.Logger).Log("msg", "module failed", "module", m, "err", service.FailureCase())
				return
			}
		}

		level.Error(log.Logger).Log("msg", "module failed", "module", "unknown", "err", service.FailureCase())
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	// Setup signal handler. If signal arrives, we stop the manager, which stops all the services.
	handler := signals.NewHandler(log.Logger)
	go func() {
		handler.Loop()
		sm.StopAsync()
	}()

	// Start all services. This can really only fail if some service is already
	// in other state than New, which should not be the case.
	err = sm.StartAsync(context.Background())
	if err != nil {
		return fmt.Errorf("failed to start service manager: %w", err)
	}

	err = sm.AwaitStopped(context.Background())

	// every trace has been finalized once the span cache is stopped
	if cerr := t.finalizer.Close(); cerr != nil {
		level.Warn(log.Logger).Log("msg", "failed to close finalizers", "err", cerr)
	}
	return err
}

func (t *App) configHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		out, err := yaml.Marshal(t.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/yaml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			level.Error(log.Logger).Log("msg", "error writing response", "err", err)
		}
	}
}

func (t *App) readyHandler(sm *services.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !sm.IsHealthy() {
			msg := bytes.Buffer{}
			msg.WriteString("Some services are not Running:\n")

			byState := sm.ServicesByState()
			for st, ls := range byState {
				msg.WriteString(fmt.Sprintf("%v: %d\n", st, len(ls)))
			}

			http.Error(w, msg.String(), http.StatusServiceUnavailable)
			return
		}

		http.Error(w, "ready", http.StatusOK)
	}
}
