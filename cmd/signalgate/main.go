package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/risklab/signalgate/internal/app"
	"github.com/risklab/signalgate/internal/config"
	"github.com/risklab/signalgate/internal/feed"
	"github.com/risklab/signalgate/internal/httpapi"
	"github.com/risklab/signalgate/internal/journal"
	"github.com/risklab/signalgate/internal/metrics"
	"github.com/risklab/signalgate/internal/snapshot"
)

const (
	appName = "signalgate"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	var cfgPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time trading-signal risk gating and position-exit engine",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to yaml config file")
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gating engine with the feed and status servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(cfgPath); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, validateCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	rec := metrics.New()

	var pub *snapshot.Publisher
	if cfg.Snapshot.Enabled {
		pub, err = snapshot.NewPublisher(cfg.Snapshot)
		if err != nil {
			return fmt.Errorf("snapshot publisher: %w", err)
		}
		defer pub.Close()
	}

	var jour *journal.Journal
	if cfg.Journal.Enabled {
		jour, err = journal.Open(cfg.Journal)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer jour.Close()
	}

	engine := app.New(cfg, rec, pub, jour)
	feedSrv := feed.NewServer(cfg.Feed, engine)
	apiSrv := httpapi.NewServer(cfg.Server, engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- feedSrv.Start() }()
	go func() { errCh <- apiSrv.Start() }()
	go engine.Run(ctx)

	log.Info().Str("version", version).Msg("signalgate started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := feedSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("feed shutdown")
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("status server shutdown")
	}
	log.Info().Msg("signalgate stopped")
	return nil
}
