// Command voxgate is the telephony gateway: it accepts AudioSocket calls
// from Asterisk, resolves and negotiates a transport profile per call, and
// bridges the audio to a speech provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/calllog"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/health"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/resilience"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/internal/wire"
	"github.com/MrWong99/voxgate/pkg/provider"
	"github.com/MrWong99/voxgate/pkg/provider/deepgram"
	"github.com/MrWong99/voxgate/pkg/provider/local"
	"github.com/MrWong99/voxgate/pkg/provider/openairt"
)

const version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxgate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider bindings ─────────────────────────────────────────────────────
	bindings, err := buildBindings(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Call record store ─────────────────────────────────────────────────────
	var store calllog.Store
	if dsn := cfg.CallLog.PostgresDSN; dsn != "" {
		pgStore, err := calllog.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect call record store", "err", err)
			return 1
		}
		store = pgStore
		slog.Info("call records persisted to PostgreSQL")
	} else {
		store = calllog.NewMemoryStore()
		slog.Info("no call record DSN configured, keeping records in memory")
	}
	defer store.Close()

	// ── Transport and sessions ────────────────────────────────────────────────
	registry, err := transport.NewRegistry(cfg, bindings, logger)
	if err != nil {
		slog.Error("failed to build transport registry", "err", err)
		return 1
	}
	orchestrator := transport.NewOrchestrator(registry, metrics, logger)

	manager := session.NewManager(session.Config{
		Orchestrator: orchestrator,
		Gate:         cfg.Gate,
		Store:        store,
		Overrides:    overridesFromEnv(),
		Metrics:      metrics,
		Log:          logger,
	})

	mediaServer := wire.NewServer(manager, logger)

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mediaServer.Serve(gctx, cfg.Server.ListenAddr)
	})

	if cfg.Server.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(
			health.StoreChecker(store),
			health.MediaChecker(mediaServer),
		).Register(mux)

		admin := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: mux}
		g.Go(func() error {
			slog.Info("admin server listening", "addr", cfg.Server.HTTPAddr)
			if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return admin.Shutdown(sctx)
		})
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, waiting for in-flight calls")
	manager.Wait()
	slog.Info("goodbye")
	return 0
}

// buildBindings instantiates the adapter for every configured provider entry.
// Each dialer is wrapped in a circuit breaker so a dead provider endpoint
// fast-fails new calls instead of stacking up dial timeouts.
func buildBindings(cfg *config.Config) (map[string]transport.Binding, error) {
	bindings := make(map[string]transport.Binding, len(cfg.Providers))
	for name, entry := range cfg.Providers {
		var adapter provider.Adapter
		var dialer provider.Dialer

		switch name {
		case "deepgram":
			var opts []deepgram.Option
			if entry.BaseURL != "" {
				opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
			}
			a := deepgram.New(entry.APIKey, opts...)
			adapter, dialer = a, a

		case "openairt":
			var opts []openairt.Option
			if entry.BaseURL != "" {
				opts = append(opts, openairt.WithBaseURL(entry.BaseURL))
			}
			if entry.Model != "" {
				opts = append(opts, openairt.WithModel(entry.Model))
			}
			a := openairt.New(entry.APIKey, opts...)
			adapter, dialer = a, a

		case "local":
			if entry.BaseURL == "" {
				return nil, fmt.Errorf("provider %q: base_url is required", name)
			}
			a := local.New(entry.BaseURL)
			adapter, dialer = a, a

		default:
			return nil, fmt.Errorf("provider %q: no such integration", name)
		}

		bindings[name] = transport.Binding{
			Adapter:    adapter,
			Dialer:     resilience.Guard(dialer, resilience.BreakerConfig{Name: name}),
			AckTimeout: time.Duration(entry.AckTimeoutMs) * time.Millisecond,
		}
	}
	return bindings, nil
}

// overridesFromEnv builds the per-call override hook from deployment-level
// environment variables. AudioSocket carries only the call UUID, so blanket
// overrides are the lever operators have without dialplan integration.
func overridesFromEnv() func(uuid.UUID) transport.Overrides {
	ov := transport.Overrides{
		Profile:  os.Getenv("VOXGATE_PROFILE"),
		Provider: os.Getenv("VOXGATE_PROVIDER"),
		Context:  os.Getenv("VOXGATE_CONTEXT"),
	}
	if ov == (transport.Overrides{}) {
		return nil
	}
	return func(uuid.UUID) transport.Overrides { return ov }
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
