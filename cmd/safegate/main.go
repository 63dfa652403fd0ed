package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldsafe/safegate/internal/agent"
	"github.com/fieldsafe/safegate/internal/authn"
	"github.com/fieldsafe/safegate/internal/config"
	"github.com/fieldsafe/safegate/internal/dispatch"
	"github.com/fieldsafe/safegate/internal/logx"
	"github.com/fieldsafe/safegate/internal/metrics"
	"github.com/fieldsafe/safegate/internal/registry"
	"github.com/fieldsafe/safegate/internal/server"
	"github.com/fieldsafe/safegate/internal/serverstatus"
	"github.com/fieldsafe/safegate/internal/transport"
	"github.com/fieldsafe/safegate/internal/workorder"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ServerConfig
	cfg.BindFlags()
	// Allow --config to override the file path before loading it.
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "--config" && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") {
			cfg.ConfigFile = strings.TrimPrefix(a, "--config=")
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("safegate version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	var (
		regStore registry.Store
		orders   workorder.Store
	)
	if cfg.RedisAddr != "" {
		client, err := registry.NewClient(cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		regStore = registry.NewRedisStoreWithClient(client)
		orders = workorder.NewRedisStore(client)
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis state store")
	} else {
		regStore = registry.NewMemoryStore()
		orders = workorder.NewMemoryStore(nil)
		logx.Log.Warn().Msg("no redis configured; connection and work-order state is in-process only")
	}

	if cfg.JWKSURL == "" {
		logx.Log.Warn().Msg("no JWKS URL configured; all client messages will be rejected")
	}
	verifier := authn.NewVerifier(cfg.JWKSURL, cfg.Audience, cfg.JWKSMaxStale)

	invokers := map[agent.Backend]agent.Invoker{
		agent.BackendBedrock: &agent.StreamInvoker{
			Backend:      agent.NewHTTPStreamBackend(cfg.BackendURL, cfg.BackendTimeout),
			Framework:    agent.BackendBedrock,
			AgentID:      cfg.AgentID,
			AgentAliasID: cfg.AgentAliasID,
		},
		agent.BackendStrands: agent.NewDelegateInvoker(cfg.DelegateURL, cfg.DelegateTimeout),
	}

	hub := transport.NewHub()
	disp := &dispatch.Dispatcher{
		Registry:      regStore,
		Verifier:      verifier,
		Invokers:      invokers,
		WorkOrders:    orders,
		ConnectionTTL: cfg.ConnectionTTL,
	}
	status := serverstatus.NewReporter(version, hub.Len)

	handler := server.New(cfg, server.Deps{Hub: hub, Dispatcher: disp, Status: status})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", metricsSrv.Addr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	logx.Log.Info().Int("port", cfg.Port).Str("version", version).Msg("safegate listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Log.Fatal().Err(err).Msg("server")
	}
	logx.Log.Info().Msg("safegate stopped")
}
