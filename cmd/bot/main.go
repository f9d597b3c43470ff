// Command bot runs one adaptive moving-average trading bot for a single
// symbol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/evdnx/gotsma/config"
	"github.com/evdnx/gotsma/engine"
	"github.com/evdnx/gotsma/executor"
	"github.com/evdnx/gotsma/logger"
	"github.com/evdnx/gotsma/marketdata"
	"github.com/evdnx/gotsma/metrics"
	"github.com/evdnx/gotsma/notify"
	"github.com/evdnx/gotsma/server"
	"github.com/evdnx/gotsma/sizer"
	"github.com/evdnx/gotsma/store"
	"github.com/evdnx/gotsma/types"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := flag.String("config", "gotsma.yaml", "YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file with credentials")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [SYMBOL]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if flag.NArg() > 0 {
		cfg.Symbol = flag.Arg(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	creds := config.CredentialsFromEnv()
	if err := config.RequireCredentials(cfg, creds); err != nil {
		fmt.Fprintln(os.Stderr, "missing required environment variables:")
		for _, name := range creds.Missing(cfg) {
			fmt.Fprintf(os.Stderr, "  %s\n", name)
		}
		os.Exit(1)
	}

	log, err := logger.NewZapLogger(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, *cfgPath, creds, log)
	stop()
	if s, ok := log.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.BotConfig, cfgPath string, creds config.Credentials, log logger.Logger) (err error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	price := marketdata.NewPriceCell()
	bars, err := marketdata.NewAlpacaBars("", creds.AlpacaKeyID, creds.AlpacaSecret, cfg.RequestTimeout)
	if err != nil {
		return err
	}

	var broker executor.Broker
	switch cfg.Broker {
	case config.BrokerPaper:
		broker = executor.NewPaperBroker(cfg.PaperCash, price.Price, log)
	default:
		broker, err = executor.NewAlpacaBroker("", creds.AlpacaKeyID, creds.AlpacaSecret, cfg.RequestTimeout)
		if err != nil {
			return err
		}
	}

	sinks := notify.Multi{notify.LogSink{Log: log}}
	if creds.TelegramToken != "" {
		sinks = append(sinks, notify.NewTelegram(creds.TelegramToken, creds.TelegramChat, cfg.RequestTimeout))
	}

	deps := engine.Deps{
		Broker:   broker,
		Source:   bars,
		Price:    price,
		Store:    db,
		Notifier: sinks,
		Log:      log,
	}
	if creds.FinnhubKey != "" {
		feed := marketdata.NewLiveFeed(creds.FinnhubKey, cfg.Symbol, price, log)
		feed.OnPrice = metrics.LastPrice.Set
		deps.Feed = feed
	} else {
		log.Warn("live_feed_disabled", logger.String("reason", "no "+config.EnvFinnhubKey))
	}
	if creds.LlamaKey != "" {
		deps.Sizer = sizer.NewLLMSizer(cfg.LLM.URL, cfg.LLM.Model, creds.LlamaKey, cfg.RequestTimeout)
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		return err
	}
	if cfg.RetuneEvery > 0 {
		var trades atomic.Int64
		eng.Subscribe(func(ev types.TradeEvent) {
			if ev.Kind != types.EventClosed {
				return
			}
			if n := trades.Add(1); n%int64(cfg.RetuneEvery) == 0 {
				log.Info("retune_hint", logger.Int64("trades", n), logger.String("symbol", cfg.Symbol))
			}
		})
	}

	srv, err := server.New(server.Config{
		Addr:    cfg.HTTPAddr,
		Control: eng,
		Log:     log,
		OnToggle: func(on bool) error {
			snap := cfg
			snap.EnableCrossunder = on
			return config.SaveSnapshot(cfgPath, snap)
		},
	})
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		err := eng.Run(gctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			return fmt.Errorf("engine: %w", err)
		case gctx.Err() != nil:
			return nil
		}
		// the engine stopped on its own; take the server down with it
		return errStopped
	})

	err = group.Wait()
	if errors.Is(err, errStopped) && ctx.Err() != nil {
		err = nil
	}
	log.Info("bot_stopped", logger.Err(err))
	return err
}

var errStopped = errors.New("engine stopped")
