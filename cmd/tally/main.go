// Command tally reconstructs a presale's purchases and prints per-buyer totals.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hedeqiang/tally"
	"github.com/hedeqiang/tally/chain"
	_ "github.com/hedeqiang/tally/chain/arbitrum"
	_ "github.com/hedeqiang/tally/chain/bsc"
	"github.com/hedeqiang/tally/chain/ethereum"
	"github.com/hedeqiang/tally/chain/geth"
	_ "github.com/hedeqiang/tally/chain/polygon"
	"github.com/hedeqiang/tally/contract"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/explorer"
	"github.com/hedeqiang/tally/metrics"
	"github.com/hedeqiang/tally/report"
	"github.com/hedeqiang/tally/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	contractFlag := flag.String("contract", "", "presale contract address (overrides PRESALE_ADDRESS)")
	fromFlag := flag.String("from", "", "first block to scan (overrides PRESALE_START_BLOCK)")
	toFlag := flag.String("to", "", "last block to scan (overrides PRESALE_END_BLOCK)")
	outputFlag := flag.String("output", "", "report format: text or json (overrides OUTPUT)")
	dbFlag := flag.String("db", "", "SQLite file to save the run to (overrides RESULTS_DB)")
	flag.Parse()

	if err := loadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyFlags(&cfg, *contractFlag, *fromFlag, *toFlag, *outputFlag, *dbFlag); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	addr, err := event.HexToAddress(cfg.Contract)
	if err != nil {
		return fmt.Errorf("PRESALE_ADDRESS: %w", err)
	}

	network, err := ethereum.LookupNetwork(cfg.Network)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, collector, logger)
	}

	opts := []tally.Option{
		tally.WithLogger(logger),
		tally.WithMetrics(collector),
		tally.WithScannerConfig(cfg.scannerConfig()),
		tally.WithResolveTimestamps(cfg.ResolveTimestamps),
	}
	if cfg.EventSignature != "" {
		opts = append(opts, tally.WithEventSignature(cfg.EventSignature))
	}
	if cfg.FromBlocks > 0 {
		opts = append(opts, tally.WithDefaultSpan(cfg.FromBlocks), tally.WithExplorerSpan(cfg.FromBlocks))
	}

	caps := contract.Capabilities{StartTime: cfg.HasStartTime}
	if cfg.ABIPath != "" {
		data, abiCaps, err := contract.LoadABI(cfg.ABIPath)
		if err != nil {
			return fmt.Errorf("ABI_PATH: %w", err)
		}
		caps = abiCaps
		opts = append(opts, tally.WithABI(data))
	}
	opts = append(opts, tally.WithCapabilities(caps))

	if cfg.RPCURL != "" {
		primary, closeFn, err := dialPrimary(ctx, cfg.PrimaryClient, network.ID, cfg.RPCURL, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		opts = append(opts, tally.WithPrimary(primary))
	}

	if cfg.ExplorerKey != "" {
		ecfg := explorer.Config{
			BaseURL:     network.ExplorerAPI,
			APIKey:      cfg.ExplorerKey,
			ChainID:     cfg.ExplorerChainID,
			Window:      cfg.ExplorerWindow,
			MinInterval: cfg.ExplorerPace,
		}
		if cfg.ExplorerAPI != "" {
			ecfg.BaseURL = cfg.ExplorerAPI
		}
		opts = append(opts, tally.WithFallback(explorer.New(ecfg,
			explorer.WithLogger(logger),
			explorer.WithMetrics(collector),
		)))
	}

	if cfg.ResultsDB != "" {
		db, err := store.Open(cfg.ResultsDB)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, tally.WithSink(db))
	}

	logger.Info("starting",
		zap.String("network", network.ID),
		zap.String("contract", addr.Hex()),
		zap.String("primary", cfg.PrimaryClient),
		zap.Bool("rpc", cfg.RPCURL != ""),
		zap.Bool("explorer", cfg.ExplorerKey != ""),
	)

	res, err := tally.New(opts...).Run(ctx, tally.Request{
		Contract:   addr,
		StartBlock: cfg.StartBlock,
		EndBlock:   cfg.EndBlock,
	})
	if err != nil {
		if chain.IsKind(err, chain.KindFatalConfig) {
			return fmt.Errorf("configuration: %w", err)
		}
		return err
	}

	ropts := report.DefaultOptions()
	ropts.Symbol = nativeSymbol(network.ID)
	if cfg.Output == "json" {
		return report.JSON(os.Stdout, res, ropts)
	}
	return report.Text(os.Stdout, res, ropts)
}

// applyFlags lets non-empty flags override the environment.
func applyFlags(cfg *config, contractAddr, from, to, output, db string) error {
	if contractAddr != "" {
		cfg.Contract = contractAddr
	}
	if from != "" {
		n, err := strconv.ParseUint(from, 10, 64)
		if err != nil {
			return fmt.Errorf("-from: %w", err)
		}
		cfg.StartBlock = &n
	}
	if to != "" {
		n, err := strconv.ParseUint(to, 10, 64)
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		cfg.EndBlock = &n
	}
	if output != "" {
		cfg.Output = output
	}
	if db != "" {
		cfg.ResultsDB = db
	}
	return nil
}

// dialPrimary builds the node client named by kind.
func dialPrimary(ctx context.Context, kind, id, url string, logger *zap.Logger) (chain.Source, func() error, error) {
	switch kind {
	case "geth":
		c, err := geth.Dial(ctx, id, url)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case "jsonrpc":
		c := ethereum.NewWithID(id, url, ethereum.WithLogger(logger))
		return c, c.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown primary client %q", kind)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func serveMetrics(addr string, collector *metrics.Collector, logger *zap.Logger) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
}

func nativeSymbol(network string) string {
	switch network {
	case "ethereum", "arbitrum":
		return "ETH"
	case "bsc":
		return "BNB"
	}
	return "MATIC"
}
