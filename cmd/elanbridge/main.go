package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/elanbridge/internal/bridge"
	"github.com/danmuck/elanbridge/internal/config"
	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/danmuck/elanbridge/internal/server"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "elanbridge.toml", "config file (.toml, .yaml or .yml)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	logLevel := flag.String("log-level", "", "log level override (trace|debug|info|warn|error)")
	noDiscovery := flag.Bool("disable-autodiscovery", false, "never publish discovery announcements")
	flag.Parse()

	logging.ConfigureRuntime(*logLevel)
	if err := run(*configPath, *envFile, *noDiscovery); err != nil {
		fmt.Fprintf(os.Stderr, "elanbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, noDiscovery bool) error {
	if err := config.LoadEnv(envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	file, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Warn().Str("path", configPath).Msg(w)
	}
	cfg := file.ServiceConfig()
	if noDiscovery {
		cfg.Bridge.DisableAutodiscovery = true
	}
	log.Info().
		Str("path", configPath).
		Str("hub", cfg.Hub.BaseURL).
		Str("bus", cfg.Bus.URL).
		Bool("autodiscovery", !cfg.Bridge.DisableAutodiscovery).
		Msg("loaded bridge config")

	svc, err := bridge.NewService(bridge.NewClientFactory(cfg), cfg.RestartCooldown)
	if err != nil {
		return err
	}

	var admin runnable
	if cfg.AdminListen != "" {
		admin = server.New(server.Config{
			Listen:  cfg.AdminListen,
			Token:   cfg.AdminToken,
			Origins: cfg.AdminOrigins,
		}, svc)
	}
	return serve(svc, admin)
}

type runnable interface {
	Run(ctx context.Context) error
}

// serve runs the service until it returns; the service owns SIGINT and
// SIGTERM. The admin server, when set, stops with it.
func serve(svc, admin runnable) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return svc.Run(gctx)
	})
	if admin != nil {
		g.Go(func() error { return admin.Run(gctx) })
	}
	return g.Wait()
}
