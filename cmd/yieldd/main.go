package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftyield/config"
	"nftyield/native/epoch"
	"nftyield/native/rewards"
	"nftyield/native/subsidy"
	"nftyield/native/vault"
	"nftyield/native/yield"
	"nftyield/observability/logging"
	"nftyield/state"
	"nftyield/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	logger := logging.Setup(logging.Options{
		Service:    "yieldd",
		Env:        cfg.Environment,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "yield"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	adapter := yield.NewLedgerAdapter()

	duration, err := cfg.ParsedEpochDuration()
	if err != nil {
		logger.Error("Failed to parse epoch duration", slog.Any("error", err))
		os.Exit(1)
	}

	coordinator, err := epoch.NewCoordinator(duration)
	if err != nil {
		logger.Error("Failed to construct epoch coordinator", slog.Any("error", err))
		os.Exit(1)
	}
	coordinator.SetState(manager)

	subsidies := subsidy.NewEngine()
	subsidies.SetState(manager)
	subsidies.SetAdapter(adapter)
	coordinator.SetRootSink(subsidies)

	vaultEngine := vault.NewEngine(cfg.VaultID)
	vaultEngine.SetState(manager)
	vaultEngine.SetAdapter(adapter)
	vaultEngine.SetEpochSource(coordinator)

	rewardsEngine := rewards.NewEngine(cfg.SigningDomain, cfg.ChainID)
	rewardsEngine.SetState(manager)
	rewardsEngine.SetAdapter(adapter)
	rewardsEngine.SetConfigSource(vaultEngine)
	rewardsEngine.SetIndexRefresher(vaultEngine)

	signer, err := cfg.SignerAddress()
	if err != nil {
		logger.Error("Failed to decode batch signer", slog.Any("error", err))
		os.Exit(1)
	}
	if !signer.IsZero() {
		rewardsEngine.SetSigner(signer)
	} else {
		logger.Warn("No batch signer configured; signed balance updates disabled")
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Serving metrics", slog.String("address", cfg.MetricsAddress))
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("Yield daemon started",
		slog.String("vault", cfg.VaultID),
		slog.Uint64("chain", cfg.ChainID),
		slog.String("epoch_duration", duration.String()),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")
}
