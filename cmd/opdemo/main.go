// Copyright (c) 2025-present deep.rent GmbH (https://deep.rent)
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

// Command opdemo wires the bookstore and gateway examples into a single
// HTTP/1 server, demonstrating how a real deployment composes the framework:
// env/config for settings, flag for command-line overrides, di for wiring
// the bookstore's *bookstore.Store and the gateway's *http.Client into their
// operation constructors, router/middleware/cors/gzip for the typed request
// path, a raw reverse proxy mounted alongside it, and app.RunAll to
// supervise the HTTP server and the background update checker together.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/deep-rent/opx/app"
	"github.com/deep-rent/opx/config"
	"github.com/deep-rent/opx/di"
	"github.com/deep-rent/opx/env"
	"github.com/deep-rent/opx/examples/bookstore"
	"github.com/deep-rent/opx/examples/gateway"
	"github.com/deep-rent/opx/flag"
	"github.com/deep-rent/opx/log"
	"github.com/deep-rent/opx/middleware/cors"
	"github.com/deep-rent/opx/middleware/gzip"
	"github.com/deep-rent/opx/router"
	"github.com/deep-rent/opx/updater"
)

// Version is the build version checked against the newest GitHub release by
// the update checker. Overridden at build time via -ldflags
// "-X main.Version=...". Must stay a valid semver: updater.New panics
// otherwise.
var Version = "v0.0.0"

// Config is opdemo's environment-backed configuration. Values are read with
// env.Unmarshal and may be overridden by --addr/--log-level flags or a
// --config file layered on top.
type Config struct {
	Addr        string `env:",default:localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	LogLevel    string `env:",default:info"`
	GithubOwner string `env:",default:deep-rent"`
	GithubRepo  string `env:",default:opx"`
	ProxyTarget string
}

func main() {
	var cfg Config
	if err := env.Unmarshal(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "opdemo: loading configuration:", err)
		os.Exit(1)
	}

	var configPath string
	fs := flag.New("opdemo")
	fs.Add(&configPath, "c", "config", "path to a JSON or YAML config file overriding env vars")
	fs.Add(&cfg.Addr, "a", "addr", "address to listen on")
	fs.Add(&cfg.LogLevel, "", "log-level", "log level (debug, info, warn, error)")
	fs.Parse()

	if configPath != "" {
		if err := config.Load(configPath, &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "opdemo: loading config file:", err)
			os.Exit(1)
		}
	}

	logger := log.New(log.WithLevel(cfg.LogLevel))

	in := di.NewInjector()
	di.Bind(in, storeSlot, provideStore(cfg), di.Singleton())
	di.Bind(in, clientSlot, provideClient(), di.Singleton())

	store, err := di.Use(in, storeSlot)
	if err != nil {
		logger.Error("opdemo: resolving bookstore", "err", err)
		os.Exit(1)
	}
	client, err := di.Use(in, clientSlot)
	if err != nil {
		logger.Error("opdemo: resolving gateway client", "err", err)
		os.Exit(1)
	}

	if err := store.Migrate(context.Background()); err != nil {
		logger.Error("opdemo: migrating bookstore schema", "err", err)
		os.Exit(1)
	}

	listEntry, err := bookstore.NewListBooksEntry(store, logger)
	if err != nil {
		logger.Error("opdemo: compiling ListBooks", "err", err)
		os.Exit(1)
	}
	createEntry, err := bookstore.NewCreateBookEntry(store, logger)
	if err != nil {
		logger.Error("opdemo: compiling CreateBook", "err", err)
		os.Exit(1)
	}
	checkEntry := gateway.NewCheckEntry(gateway.Config{Client: client})

	r := router.New(
		router.WithLogger(logger),
		router.WithOuter(
			router.Recover(logger),
			router.RequestID(),
			router.Log(logger),
			cors.New(cors.WithAllowedOrigins("*")),
			gzip.New(),
		),
	)
	r.Register(http.MethodGet, "books", listEntry)
	r.Register(http.MethodPost, "books", createEntry)
	r.Register(http.MethodGet, "check", checkEntry)

	mux := http.NewServeMux()
	mux.Handle("/", r)
	// NewReverseProxy is never a router.Entry (its passthrough is
	// incompatible with a typed, codec-encoded output); it is mounted
	// directly on the mux instead, under its own prefix, and only when an
	// upstream was actually configured.
	if cfg.ProxyTarget != "" {
		target, err := url.Parse(cfg.ProxyTarget)
		if err != nil {
			logger.Error("opdemo: invalid PROXY_TARGET", "err", err)
			os.Exit(1)
		}
		mux.Handle("/proxy/", http.StripPrefix("/proxy", gateway.NewReverseProxy(target)))
	}

	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	serve := func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- server.ListenAndServe() }()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	}

	checkForUpdates := updater.New(&updater.Config{
		Owner:     cfg.GithubOwner,
		Repo:      cfg.GithubRepo,
		Current:   Version,
		UserAgent: "opdemo/" + Version,
	})
	updateLoop := func(ctx context.Context) error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				release, err := checkForUpdates.Check(ctx)
				if err != nil {
					logger.Warn("opdemo: update check failed", "err", err)
					continue
				}
				if release != nil {
					logger.Info("opdemo: newer release available", "version", release.Version, "url", release.URL)
				}
			}
		}
	}

	logger.Info("opdemo: starting", "addr", cfg.Addr, "version", Version)
	if err := app.RunAll([]app.Runnable{serve, updateLoop}, app.WithLogger(logger)); err != nil {
		logger.Error("opdemo: exited with error", "err", err)
		os.Exit(1)
	}
}

var (
	storeSlot  = di.NewSlot[*bookstore.Store]("opdemo")
	clientSlot = di.NewSlot[*http.Client]("opdemo")
)

func provideStore(cfg Config) di.Provider[*bookstore.Store] {
	return func(in *di.Injector) (*bookstore.Store, error) {
		return bookstore.Open(in.Context(), cfg.DatabaseURL)
	}
}

func provideClient() di.Provider[*http.Client] {
	return func(in *di.Injector) (*http.Client, error) {
		return gateway.NewClient(http.DefaultTransport, Version), nil
	}
}
