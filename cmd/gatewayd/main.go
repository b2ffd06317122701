// Copyright 2026 Semblance AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semblance-ai/gateway/internal/audit"
	"github.com/semblance-ai/gateway/internal/autonomy"
	"github.com/semblance-ai/gateway/internal/config"
	"github.com/semblance-ai/gateway/internal/connector"
	"github.com/semblance-ai/gateway/internal/connector/providers"
	"github.com/semblance-ai/gateway/internal/gateway"
	"github.com/semblance-ai/gateway/internal/ipc"
	"github.com/semblance-ai/gateway/internal/keys"
	"github.com/semblance-ai/gateway/internal/log"
	"github.com/semblance-ai/gateway/internal/netguard"
	"github.com/semblance-ai/gateway/internal/store"
	"github.com/semblance-ai/gateway/internal/tokens"
	"github.com/semblance-ai/gateway/pkg/httpclient"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to gateway.yaml")
		socketPath  = flag.String("socket", "", "Unix socket path override")
		dbPath      = flag.String("db", "", "State database path override")
		metricsAddr = flag.String("metrics-addr", "", "Expose Prometheus metrics on this loopback address (e.g. 127.0.0.1:9464)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gatewayd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	if err := run(logger, *configPath, *socketPath, *dbPath, *metricsAddr); err != nil {
		logger.Error("gateway failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, socketPath, dbPath, metricsAddr string) error {
	if configPath == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return fmt.Errorf("resolving config path: %w", err)
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if socketPath != "" {
		cfg.Listen.SocketPath = socketPath
	}
	if dbPath != "" {
		cfg.Database = dbPath
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}

	signingKey, err := keys.SigningKey(dataDir)
	if err != nil {
		return fmt.Errorf("provisioning signing key: %w", err)
	}
	encKeyBytes, err := keys.EncryptionKey(dataDir)
	if err != nil {
		return fmt.Errorf("provisioning encryption key: %w", err)
	}
	encKey, err := store.NewEncryptionKey(encKeyBytes)
	if err != nil {
		return fmt.Errorf("building encryption key: %w", err)
	}

	databasePath := cfg.Database
	if databasePath == "" {
		if databasePath, err = config.DatabasePath(); err != nil {
			return fmt.Errorf("resolving database path: %w", err)
		}
	}

	st, err := store.Open(store.Config{Path: databasePath, EncryptionKey: encKey})
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer st.Close()

	auditLog, err := audit.NewLog(st)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	guard := netguard.NewMonitor(st, logger, 24*time.Hour)
	tokenStore := tokens.NewStore(st, logger)

	defaultTier, err := autonomy.ParseTier(cfg.Autonomy.DefaultTier)
	if err != nil {
		return fmt.Errorf("invalid default tier: %w", err)
	}
	engine := autonomy.NewEngine(st, logger, autonomy.Config{
		DefaultTier:         defaultTier,
		EscalationThreshold: cfg.Autonomy.EscalationThreshold,
		EscalationTTL:       cfg.Autonomy.EscalationTTL,
	})

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Connectors.Timeout
	httpCfg.RetryAttempts = cfg.Connectors.RetryAttempts
	httpClient, err := httpclient.New(httpCfg)
	if err != nil {
		return fmt.Errorf("building http client: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := connector.NewMetrics(registry)

	refresh := make(map[string]tokens.RefreshConfig, len(cfg.Connectors.OAuth))
	for provider, oc := range cfg.Connectors.OAuth {
		refresh[provider] = tokens.RefreshConfig{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			TokenURL:     oc.TokenURL,
			Scopes:       oc.Scopes,
		}
	}

	router := connector.NewRouter()
	if err := providers.RegisterAll(router, connector.Deps{
		Tokens:  tokenStore,
		Guard:   guard,
		Client:  httpClient,
		Logger:  logger,
		Metrics: metrics,
		Timeout: cfg.Connectors.Timeout,
		Refresh: refresh,
	}); err != nil {
		return fmt.Errorf("registering connectors: %w", err)
	}

	gw := gateway.New(gateway.Deps{
		SigningKey: signingKey,
		Store:      st,
		Audit:      auditLog,
		Guard:      guard,
		Engine:     engine,
		Router:     router,
		Logger:     logger,
		Config:     cfg,
	})

	endpoint := cfg.Listen.SocketPath
	if endpoint == "" {
		if runtime.GOOS == "windows" {
			endpoint = config.PipeName()
		} else if endpoint, err = config.SocketPath(); err != nil {
			return fmt.Errorf("resolving socket path: %w", err)
		}
	}

	ln, err := ipc.Listen(endpoint)
	if err != nil {
		return fmt.Errorf("opening listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	watcher := config.NewWatcher(configPath, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()
	go func() {
		for updated := range watcher.Updates() {
			gw.ApplyConfig(updated)
		}
	}()

	if metricsAddr != "" {
		go serveMetrics(ctx, logger, metricsAddr, registry)
	}

	logger.Info("gateway listening",
		"endpoint", endpoint,
		"database", databasePath,
		"connectors", router.IDs(),
		"version", version)

	server := ipc.NewServer(gw, logger, cfg.Listen.BadSignatureRate, cfg.Listen.BadSignatureBurst)
	return server.Serve(ctx, ln)
}

// serveMetrics exposes the Prometheus registry on a loopback address.
func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", "error", err)
	}
}
