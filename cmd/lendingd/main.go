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

	"gopkg.in/yaml.v3"

	"lendpool/config"
	"lendpool/core/state"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/observability/logging"
	telemetry "lendpool/observability/otel"
	"lendpool/rpc"
	"lendpool/storage"
)

const (
	authTokenEnv = "LENDPOOL_RPC_TOKEN"
	otlpEndpoint = "LENDPOOL_OTLP_ENDPOINT"
)

// ServiceConfig is the deployment-level configuration: where to listen, where
// to put data, how to log. Protocol parameters live in the TOML pool config.
type ServiceConfig struct {
	Listen      string  `yaml:"listen"`
	DataDir     string  `yaml:"dataDir"`
	Environment string  `yaml:"environment"`
	LogFile     string  `yaml:"logFile"`
	RateLimit   float64 `yaml:"rateLimit"`
	RateBurst   int     `yaml:"rateBurst"`
	Telemetry   struct {
		Metrics  bool `yaml:"metrics"`
		Traces   bool `yaml:"traces"`
		Insecure bool `yaml:"insecure"`
	} `yaml:"telemetry"`
}

func loadServiceConfig(path string) (*ServiceConfig, error) {
	cfg := &ServiceConfig{Listen: ":8545", RateLimit: 50, RateBurst: 100}
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse service config: %w", err)
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":8545"
	}
	return cfg, nil
}

func main() {
	var (
		poolConfigPath    = flag.String("config", "lendpool.toml", "path to the pool configuration")
		serviceConfigPath = flag.String("service-config", "", "path to the service configuration (optional)")
	)
	flag.Parse()

	svcCfg, err := loadServiceConfig(*serviceConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lendingd: %v\n", err)
		os.Exit(1)
	}

	log := logging.Setup("lendingd", svcCfg.Environment, logging.Options{FilePath: svcCfg.LogFile})

	poolCfg, err := config.Load(*poolConfigPath)
	if err != nil {
		log.Error("load pool config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if endpoint := strings.TrimSpace(os.Getenv(otlpEndpoint)); endpoint != "" {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "lendingd",
			Environment: svcCfg.Environment,
			Endpoint:    endpoint,
			Insecure:    svcCfg.Telemetry.Insecure,
			Metrics:     svcCfg.Telemetry.Metrics,
			Traces:      svcCfg.Telemetry.Traces,
		})
		if err != nil {
			log.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				log.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	var db storage.Database
	if strings.TrimSpace(svcCfg.DataDir) != "" {
		leveldb, err := storage.NewLevelDB(svcCfg.DataDir)
		if err != nil {
			log.Error("open database", "path", svcCfg.DataDir, "error", err)
			os.Exit(1)
		}
		db = leveldb
	} else {
		log.Warn("no data directory configured, state is ephemeral")
		db = storage.NewMemDB()
	}
	defer db.Close()

	manager := state.NewManager(db)

	prices := oracle.NewAggregator(poolCfg.Oracle.Priority, poolCfg.Oracle.MaxAge())
	prices.SetMaxDeviationBps(poolCfg.Oracle.MaxDeviationBps)
	prices.Register("manual", oracle.NewManualOracle())

	engine := lending.NewEngine(poolCfg.Pool.ModuleAddress, poolCfg.Pool.AdminAddress)
	engine.SetState(manager)
	engine.SetOracle(prices)
	engine.SetPauses(nativecommon.StaticPauses(poolCfg.Pauses.Flows()))
	if poolCfg.Pool.ProtocolShareBps > 0 {
		engine.SetCollateralRouting(lending.CollateralRouting{
			ProtocolBps:    poolCfg.Pool.ProtocolShareBps,
			ProtocolTarget: poolCfg.Pool.TreasuryAddress,
		})
	}

	if err := bootstrapMarkets(engine, manager, poolCfg); err != nil {
		log.Error("bootstrap markets", "error", err)
		os.Exit(1)
	}

	opts := []rpc.ServerOption{
		rpc.WithEventLog(manager),
		rpc.WithRateLimit(svcCfg.RateLimit, svcCfg.RateBurst),
	}
	if token := strings.TrimSpace(os.Getenv(authTokenEnv)); token != "" {
		opts = append(opts, rpc.WithAuthToken(token))
	} else {
		log.Warn("no RPC auth token configured, admin methods are open")
	}
	server := rpc.NewServer(engine, log, opts...)

	httpServer := &http.Server{
		Addr:              svcCfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("lendingd listening", "addr", svcCfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
}

// bootstrapMarkets creates any configured market that does not exist yet and
// re-registers every interest model so persisted markets get their curves
// back after a restart.
func bootstrapMarkets(engine *lending.Engine, manager *state.Manager, cfg *config.Config) error {
	for _, marketCfg := range cfg.Markets {
		caps, err := marketCfg.Caps()
		if err != nil {
			return err
		}
		manager.RegisterInterestModel(marketCfg.Asset, marketCfg.Model())
		_, err = engine.CreateMarket(cfg.Pool.AdminAddress, marketCfg.Asset, marketCfg.Model(), marketCfg.Risk(), caps)
		if err != nil && !errors.Is(err, lending.ErrMarketExists) {
			return fmt.Errorf("create market %s: %w", marketCfg.Asset, err)
		}
	}
	return nil
}
