// Command pagesense monitors a web page and serves its context to an
// AI assistant over HTTP and MCP.
//
// Usage:
//
//	pagesense -config pagesense.yaml        # full pipeline from YAML config
//	pagesense -url https://example.com      # quick single-page monitoring
//	pagesense -url https://example.com -mcp # plus MCP tools on stdio
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

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pagesense/aggregate"
	"github.com/hazyhaar/pagesense/config"
	"github.com/hazyhaar/pagesense/fault"
	"github.com/hazyhaar/pagesense/history"
	"github.com/hazyhaar/pagesense/httpapi"
	"github.com/hazyhaar/pagesense/netmon"
	"github.com/hazyhaar/pagesense/observe"
	"github.com/hazyhaar/pagesense/page/rodhost"
	"github.com/hazyhaar/pagesense/privacy"
	"github.com/hazyhaar/pagesense/provider"
	"github.com/hazyhaar/pagesense/semantic"
)

func main() {
	configPath := flag.String("config", "", "path to pagesense.yaml config file")
	pageURL := flag.String("url", "", "monitor a single URL (overrides config page.url)")
	httpAddr := flag.String("http", "", "HTTP API listen address (overrides config http.addr)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *pageURL, *httpAddr)
	if err != nil {
		logger.Error("pagesense: config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, logger, cfg, *mcpStdio); err != nil {
		logger.Error("pagesense: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, pageURL, httpAddr string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if pageURL != "" {
		cfg.Page.URL = pageURL
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, mcpStdio bool) error {
	ctrl := privacy.NewController(cfg.Privacy, logger)
	faults := fault.NewHandler(fault.WithLogger(logger))

	var (
		agg     *aggregate.Aggregator
		monitor *netmon.Monitor
		obs     *observe.Observer
	)

	monitored := ctrl.ShouldMonitorURL(cfg.Page.URL)
	if !monitored {
		logger.Info("page excluded by privacy policy, serving empty context",
			"url", ctrl.Current().SanitizeURL(cfg.Page.URL))
	} else {
		browser := rodhost.NewBrowser(rodhost.BrowserConfig{
			RemoteURL:       cfg.Browser.Remote,
			Headful:         cfg.Browser.Headful,
			NavigateTimeout: cfg.Browser.NavigateTimeout,
			Logger:          logger,
		})
		if err := browser.Start(ctx); err != nil {
			return fmt.Errorf("browser: %w", err)
		}
		defer browser.Close()

		host, err := browser.Open(ctx, cfg.Page.URL)
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.Page.URL, err)
		}
		defer host.Close()

		obs = observe.New(observe.Config{
			Host:              host,
			ThrottleInterval:  cfg.Observe.ThrottleInterval,
			MaxBatch:          cfg.Observe.MaxBatch,
			ChangeBuffer:      cfg.Observe.ChangeBuffer,
			InteractionBuffer: cfg.Observe.InteractionBuffer,
			Faults:            faults,
			Logger:            logger,
		})
		if err := obs.Start(ctx); err != nil {
			logger.Warn("DOM observation unavailable", "error", err)
		}
		defer obs.Stop()

		monitor = netmon.New(netmon.Config{
			Host:                 host,
			Privacy:              ctrl,
			Faults:               faults,
			MaxRecords:           cfg.Network.MaxRecords,
			HealthInterval:       cfg.Network.HealthInterval,
			MaxReconnectAttempts: cfg.Network.MaxReconnectAttempts,
			Logger:               logger,
		})
		if err := monitor.Start(ctx); err != nil {
			logger.Warn("network monitoring unavailable", "error", err)
		}
		defer monitor.Stop()

		agg = aggregate.New(aggregate.Config{
			Document:          host,
			DOM:               obs,
			Network:           monitor,
			Semantics:         semantic.New(semantic.WithLogger(logger)),
			Faults:            faults,
			CacheTTL:          cfg.Aggregate.CacheTTL,
			ActivityWindow:    cfg.Aggregate.ActivityWindow,
			MaxRecentRequests: cfg.Aggregate.MaxRecentRequests,
			MaxRecentChanges:  cfg.Aggregate.MaxRecentChanges,
			Logger:            logger,
		})
	}

	prov := provider.New(provider.Config{
		Source:           sourceOrNil(agg),
		Privacy:          ctrl,
		Active:           activeCheck(obs, monitor),
		MaxTokens:        cfg.Provider.MaxTokens,
		MaxContextLength: cfg.Provider.MaxContextLength,
		FormattedTTL:     cfg.Provider.FormattedTTL,
		Logger:           logger,
	})

	var store *history.Store
	if cfg.History.Path != "" && agg != nil {
		s, err := history.Open(cfg.History.Path, history.Config{
			Privacy:         ctrl,
			QueueSize:       cfg.History.QueueSize,
			CleanupInterval: cfg.History.CleanupInterval,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		store = s
		store.Start(ctx)
		defer store.Close()
		agg.Subscribe(aggregate.EventContextUpdated, store.Record)
	}

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{
			Name:    "pagesense",
			Version: "1.0.0",
		}, nil)
		prov.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("mcp server", "error", err)
			}
		}()
		logger.Info("MCP tools serving on stdio")
	}

	if cfg.HTTP.Addr != "" {
		api := httpapi.New(httpapi.Config{
			Provider: prov,
			Privacy:  ctrl,
			Network:  networkOrNil(monitor),
			DOM:      domOrNil(obs),
			History:  store,
			MaxBody:  cfg.HTTP.MaxBody,
			Logger:   logger,
		})
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
			errCh <- srv.ListenAndServe()
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
		}
		return nil
	}

	if !mcpStdio && cfg.HTTP.Addr == "" {
		return fmt.Errorf("nothing to serve: set http.addr or pass -mcp")
	}

	<-ctx.Done()
	return nil
}

// sourceOrNil avoids putting a typed nil into the ContextSource
// interface when the pipeline is not running.
func sourceOrNil(agg *aggregate.Aggregator) provider.ContextSource {
	if agg == nil {
		return nil
	}
	return agg
}

func networkOrNil(m *netmon.Monitor) httpapi.NetworkSource {
	if m == nil {
		return nil
	}
	return m
}

func domOrNil(o *observe.Observer) httpapi.DOMSource {
	if o == nil {
		return nil
	}
	return o
}

// activeCheck reports whether any part of the monitoring pipeline is
// live. Standalone mode passes two nils and always reports false.
func activeCheck(obs *observe.Observer, monitor *netmon.Monitor) func() bool {
	return func() bool {
		if obs != nil && obs.Running() {
			return true
		}
		return monitor != nil && monitor.Running()
	}
}
