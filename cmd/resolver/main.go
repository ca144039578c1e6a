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

	"github.com/alejandrodnm/liqshield/config"
	"github.com/alejandrodnm/liqshield/internal/adapters/apiclient"
	"github.com/alejandrodnm/liqshield/internal/adapters/coingecko"
	"github.com/alejandrodnm/liqshield/internal/adapters/httpapi"
	"github.com/alejandrodnm/liqshield/internal/adapters/notify"
	"github.com/alejandrodnm/liqshield/internal/adapters/onchain"
	"github.com/alejandrodnm/liqshield/internal/adapters/oneinch"
	"github.com/alejandrodnm/liqshield/internal/adapters/pricefeed"
	"github.com/alejandrodnm/liqshield/internal/adapters/storage"
	"github.com/alejandrodnm/liqshield/internal/application/resolver"
	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/alejandrodnm/liqshield/internal/observability"
	"github.com/alejandrodnm/liqshield/internal/ports"
	"github.com/alejandrodnm/liqshield/internal/protection"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	poll := flag.Bool("poll", false, "run the fillability poller next to the API")
	once := flag.Bool("once", false, "run one poller cycle and exit, without the API")
	autoFill := flag.Bool("auto-fill", false, "fill every fillable order found by the poller")
	table := flag.Bool("table", false, "print poller cycles as tables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	cfg.Poller.Enabled = cfg.Poller.Enabled || *poll || *once
	cfg.Poller.AutoFill = cfg.Poller.AutoFill || *autoFill
	cfg.Poller.Table = cfg.Poller.Table || *table
	setupLogger(cfg.Log)

	slog.Info("liqshield resolver starting",
		"config", *configPath,
		"chain_id", cfg.Chain.ID,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"oracle", cfg.Oracle.Provider,
		"poller", cfg.Poller.Enabled,
		"auto_fill", cfg.Poller.AutoFill,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *once); err != nil {
		slog.Error("resolver exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("liqshield resolver stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	oracle, err := buildOracle(cfg, metrics)
	if err != nil {
		return err
	}

	submitter, closeSubmitter, err := buildSubmitter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSubmitter()

	lopAddr := config.Address(cfg.Contracts.LimitOrderProtocol)
	var target common.Address
	if cfg.Resolver.EnforcePostInteractionTarget {
		target = config.Address(cfg.Contracts.PostInteraction)
	}

	svc := resolver.NewService(
		resolver.Config{
			ChainID:            cfg.Chain.ID,
			LimitOrderProtocol: lopAddr,
			VerifySignatures:   cfg.Resolver.VerifySignatures,
		},
		store,
		resolver.NewReconstructor(target),
		oracle,
		submitter,
		resolver.ExecutorConfig{
			FillTimeout:     cfg.FillTimeout(),
			EnsureAllowance: cfg.Fill.EnsureAllowance,
		},
		cfg.Resolver.EvalWorkers,
		metrics,
	)

	notifier := notify.NewConsole(cfg.Poller.Table)
	poller := resolver.NewPoller(resolver.PollerConfig{
		Interval: cfg.PollInterval(),
		AutoFill: cfg.Poller.AutoFill,
		RunOnce:  once,
	}, svc, notifier)

	if once {
		return poller.Run(ctx)
	}

	api := httpapi.New(svc, httpapi.Config{
		AdminToken:         cfg.Server.AdminToken,
		ChainID:            cfg.Chain.ID,
		LimitOrderProtocol: lopAddr,
		Deployment: protection.Deployment{
			Multicall: config.Address(cfg.Contracts.Multicall),
			Pool:      config.Address(cfg.Contracts.AavePool),
		},
		CORS:           httpapi.CORSConfig{AllowedOrigins: cfg.Server.CORSOrigins},
		MetricsHandler: promhttp.Handler(),
	}, metrics)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		slog.Info("http: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Poller.Enabled {
		g.Go(func() error { return poller.Run(gctx) })
	}
	return g.Wait()
}

func openStore(cfg config.StorageConfig) (ports.OrderStore, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %q: %w", cfg.DSN, err)
		}
		return s, nil
	case "bolt":
		s, err := storage.NewBoltStore(cfg.DSN, &bolt.Options{Timeout: 2 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("open bolt store %q: %w", cfg.DSN, err)
		}
		return s, nil
	default:
		slog.Warn("using in-memory storage, orders are lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

func buildOracle(cfg *config.Config, metrics *observability.Metrics) (ports.PriceOracle, error) {
	client := apiclient.Options{
		Timeout:    cfg.OracleTimeout(),
		RatePerSec: cfg.Oracle.RatePerSec,
		MaxRetries: cfg.Oracle.MaxRetries,
	}
	inch := pricefeed.Instrument(oneinch.NewPriceClient(oneinch.Config{
		BaseURL:  cfg.Oracle.OneInchBase,
		APIKey:   cfg.Oracle.OneInchAPIKey,
		ChainID:  cfg.Chain.ID,
		Currency: cfg.Oracle.Currency,
		Client:   client,
	}), cfg.OracleTimeout(), metrics)
	gecko := pricefeed.Instrument(coingecko.NewClient(coingecko.Config{
		BaseURL:  cfg.Oracle.CoinGeckoBase,
		APIKey:   cfg.Oracle.CoinGeckoAPIKey,
		Platform: cfg.Oracle.CoinGeckoPlatform,
		Currency: cfg.Oracle.Currency,
		Client:   client,
	}), cfg.OracleTimeout(), metrics)

	switch cfg.Oracle.Provider {
	case "coingecko":
		return gecko, nil
	case "fallback":
		return pricefeed.NewFallback(inch, gecko)
	default:
		if cfg.Oracle.OneInchAPIKey == "" {
			slog.Warn("ONEINCH_API_KEY is not set, 1inch requests will likely be rejected")
		}
		return inch, nil
	}
}

// buildSubmitter dials the RPC endpoint and loads the filler key. Without a
// key the resolver still ingests and evaluates orders but every fill fails.
func buildSubmitter(ctx context.Context, cfg *config.Config) (ports.FillSubmitter, func(), error) {
	if cfg.Fill.PrivateKey == "" {
		slog.Warn("FILLER_PRIVATE_KEY is not set, fills are disabled")
		return noFiller{}, func() {}, nil
	}
	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc %q: %w", cfg.Chain.RPCURL, err)
	}
	filler, err := onchain.NewFiller(client, cfg.Fill.PrivateKey, onchain.Config{
		ChainID:            cfg.Chain.ID,
		LimitOrderProtocol: config.Address(cfg.Contracts.LimitOrderProtocol),
		ReceiptTimeout:     cfg.ReceiptTimeout(),
		GasBufferPct:       cfg.Fill.GasBufferPct,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	slog.Info("filler ready", "address", filler.TakerAddress().Hex())
	return filler, client.Close, nil
}

type noFiller struct{}

func (noFiller) TakerAddress() common.Address { return common.Address{} }

func (noFiller) SubmitFill(context.Context, domain.FillCall) (domain.FillResult, error) {
	return domain.FillResult{}, fmt.Errorf("%w: no filler key configured", domain.ErrFillTransactionFailed)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
