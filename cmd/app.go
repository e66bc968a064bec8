package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatwrap/chat"
	"chatwrap/config"
	"chatwrap/metrics"
	"chatwrap/model"
	"chatwrap/plugin"
	"chatwrap/plugins/templates"
	"chatwrap/plugins/translator"
	"chatwrap/provider"
	"chatwrap/storage"
)

// app is the wired process: one store, one plugin runtime, one backend.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	kv         storage.Backend
	provider   model.Provider
	plugins    *plugin.Manager
	templates  *templates.Plugin
	translator *translator.Plugin
	store      *chat.Store

	metricsServer *http.Server
	logCloser     io.Closer
}

// newApp builds every collaborator from cfg. The caller owns Close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, closer, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, logCloser: closer}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.metrics = metrics.New(a.registry)

	if err := a.openStorage(ctx); err != nil {
		a.closeLog()
		return nil, err
	}

	a.provider, err = provider.New(provider.Config{
		Type:              provider.MapProviderIDToType(cfg.API.Provider),
		BaseURL:           cfg.API.BaseURL,
		Model:             cfg.API.Model,
		APIKey:            cfg.API.Key,
		Timeout:           cfg.API.Timeout.Duration,
		RetryAttempts:     cfg.API.RetryAttempts,
		RetryDelay:        cfg.API.RetryDelay.Duration,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Logger:            config.Component(log, "provider"),
		Metrics:           a.metrics,
	})
	if err != nil {
		a.kv.Close()
		a.closeLog()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	if err := a.loadPlugins(ctx); err != nil {
		a.kv.Close()
		a.closeLog()
		return nil, err
	}

	a.store = chat.NewStore(a.provider, a.kv,
		chat.WithHooks(a.plugins),
		chat.WithDefaults(cfg.Chat),
		chat.WithLogger(log),
		chat.WithMetrics(a.metrics),
	)
	if _, err := a.store.Init(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize chat store: %w", err)
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	kv, err := storage.Open(a.cfg.Storage.Backend, a.cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if a.cfg.Storage.Encrypt {
		sealed, err := storage.NewSealedKV(ctx, kv, a.cfg.Passphrase())
		if err != nil {
			kv.Close()
			return fmt.Errorf("failed to unlock storage: %w", err)
		}
		a.kv = sealed
	} else {
		a.kv = kv
	}
	a.log.Debug().Str("backend", a.cfg.Storage.Backend).Bool("encrypted", a.cfg.Storage.Encrypt).Msg("Storage opened")
	return nil
}

// loadPlugins registers the built-in plugins, then enables whatever was
// enabled last run plus anything the config asks for.
func (a *app) loadPlugins(ctx context.Context) error {
	a.plugins = plugin.NewManager(a.kv, plugin.WithLogger(a.log), plugin.WithMetrics(a.metrics))
	if err := a.plugins.Load(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Failed to load plugin state")
	}

	a.templates = templates.New(templates.NewCatalog(a.kv), config.Component(a.log, "templates"))

	var chain translator.Chain
	if tc := a.cfg.Translation; tc.BaseURL != "" {
		chain = append(chain, translator.NewOpenAITranslator(tc.BaseURL, tc.APIKey, tc.Model))
	}
	chain = append(chain, translator.NewModelTranslator(a.provider))
	a.translator = translator.New(chain, config.Component(a.log, "translator"))

	for _, p := range []plugin.Plugin{a.templates, a.translator} {
		if err := a.plugins.Register(ctx, p); err != nil {
			return fmt.Errorf("failed to register plugin: %w", err)
		}
	}

	if err := a.plugins.RestoreEnabled(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Some plugins could not be re-enabled")
	}
	for _, id := range a.cfg.Plugins.Enabled {
		if err := a.plugins.Enable(ctx, id); err != nil {
			a.log.Warn().Err(err).Str("plugin", id).Msg("Failed to enable plugin")
		}
	}
	return nil
}

// serveMetrics exposes /metrics on addr until Close.
func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}

// Close flushes the store and releases storage and the log file.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		errs = append(errs, a.metricsServer.Shutdown(shutdownCtx))
		cancel()
	}
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	a.closeLog()
	return errors.Join(errs...)
}

func (a *app) closeLog() {
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
