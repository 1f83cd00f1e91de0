// Package main is the entry point for the feature store service: it
// wires the registry, cache tiers, raw-data gateway, compute engine,
// singleflight coordinator, and metrics tracker into a Facade, then
// serves it over HTTP and runs the background scheduler.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/featurestore/internal/api"
	"github.com/aristath/featurestore/internal/config"
	"github.com/aristath/featurestore/internal/featurestore"
	"github.com/aristath/featurestore/internal/featurestore/compute"
	"github.com/aristath/featurestore/internal/featurestore/l1"
	"github.com/aristath/featurestore/internal/featurestore/l2"
	"github.com/aristath/featurestore/internal/featurestore/metrics"
	"github.com/aristath/featurestore/internal/featurestore/rawdata"
	sf "github.com/aristath/featurestore/internal/featurestore/singleflight"
	fs "github.com/aristath/featurestore/internal/fstypes"
	"github.com/aristath/featurestore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting feature store")

	registry, err := featurestore.NewStandardRegistry()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build feature registry")
	}
	log.Info().Int("features", registry.Count()).Msg("feature registry sealed")

	clock := fs.SystemClock{}

	l1Cache := l1.New(200_000, clock, 30*time.Second)
	defer l1Cache.Close()
	l1Store := l1.NewToggleableStore(l1Cache)

	l2Store, err := l2.Open(l2.Config{Path: cfg.L2Path, RetryBufferSize: cfg.L2RetryBufSize})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open l2 store")
	}
	defer l2Store.Close()

	// The Provider is the seam a real market-data vendor client plugs
	// into. With no API key configured, a synthetic fake keeps the
	// binary runnable without external credentials; with one set, the
	// real Alpha Vantage client is used instead.
	var provider rawdata.Provider
	if cfg.AlphaVantageAPIKey != "" {
		provider = rawdata.NewAlphaVantageClient(cfg.AlphaVantageAPIKey, log)
		log.Info().Msg("raw data provider: alphavantage")
	} else {
		fake := rawdata.NewFakeProvider()
		seedSyntheticBars(fake, cfg.WarmTickers)
		provider = fake
		log.Info().Msg("raw data provider: synthetic fake (set FEATURESTORE_ALPHAVANTAGE_API_KEY to use alphavantage)")
	}
	gateway := rawdata.New(provider, rawdata.Config{MaxRequestsPerSecond: cfg.UpstreamMaxRPS}, log)

	engine := compute.NewEngine(cfg.ComputePoolSize)

	lock := sf.NewInMemoryLock(clock)
	coordinator := sf.New(sf.Options{
		Lock:         lock,
		LockTTL:      cfg.SingleflightLockTTL,
		PollDeadline: cfg.SingleflightPollDL,
	})

	memSink := metrics.NewMemorySink()
	tracker := metrics.New(memSink)

	facade := featurestore.New(featurestore.Deps{
		Registry:    registry,
		L1:          l1Store,
		L2:          l2Store,
		RawData:     gateway,
		Engine:      engine,
		Coordinator: coordinator,
		Tracker:     tracker,
		Clock:       clock,
		Log:         log,
	}, featurestore.Config{
		TTLIntraday:       cfg.TTLIntraday,
		TTLDaily:          cfg.TTLDaily,
		TTLStaticMax:      cfg.TTLStaticMax,
		AbsentTTLFraction: cfg.AbsentTTLFraction,
		PendingComputeMax: cfg.PendingComputeN,
	})

	scheduler := featurestore.NewScheduler(log)
	if err := scheduler.AddJob("*/30 * * * * *", featurestore.NewRetryBufferFlusher(l2Store.FlushRetryBuffer, log)); err != nil {
		log.Fatal().Err(err).Msg("failed to register retry buffer flush job")
	}
	if len(cfg.WarmTickers) > 0 && len(cfg.WarmFeatureNames) > 0 {
		warmJob := featurestore.NewWarmSweep(facade, cfg.WarmTickers, cfg.WarmFeatureNames, time.Now)
		if err := scheduler.AddJob("0 */5 * * * *", warmJob); err != nil {
			log.Fatal().Err(err).Msg("failed to register warm sweep job")
		}
	}
	sanityJob := featurestore.NewRegistryTTLSanity(registry, featurestore.Config{
		TTLIntraday:       cfg.TTLIntraday,
		TTLDaily:          cfg.TTLDaily,
		TTLStaticMax:      cfg.TTLStaticMax,
		AbsentTTLFraction: cfg.AbsentTTLFraction,
		PendingComputeMax: cfg.PendingComputeN,
	}, log)
	if err := scheduler.AddJob("0 0 * * * *", sanityJob); err != nil {
		log.Fatal().Err(err).Msg("failed to register registry ttl sanity job")
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := api.New(api.Config{
		Log:     log,
		Facade:  facade,
		Metrics: memSink,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("feature store ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during http server shutdown")
	}
}

// seedSyntheticBars gives the default FakeProvider a year of
// deterministic-looking daily bars for each watchlist ticker so a
// fresh checkout can serve requests without wiring a real vendor.
func seedSyntheticBars(p *rawdata.FakeProvider, tickers []string) {
	if len(tickers) == 0 {
		tickers = []string{"DEMO"}
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	for _, ticker := range tickers {
		rnd := rand.New(rand.NewSource(int64(len(ticker)) * 104729))
		price := 100.0
		bars := make([]fs.Bar, 0, 400)
		for i := 400; i >= 0; i-- {
			day := end.AddDate(0, 0, -i)
			price *= 1 + (rnd.Float64()-0.5)*0.02
			bars = append(bars, fs.Bar{
				T:      day,
				Open:   price * 0.995,
				High:   price * 1.01,
				Low:    price * 0.99,
				Close:  price,
				Volume: 1_000_000 + rnd.Float64()*500_000,
			})
		}
		p.SetBars(ticker, bars)
	}
}
