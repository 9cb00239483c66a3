package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"momentumwatch/internal/config"
	"momentumwatch/internal/metrics"
	"momentumwatch/internal/notifier"
	"momentumwatch/internal/pipeline"
	"momentumwatch/internal/provider"
	"momentumwatch/internal/recorder"
	"momentumwatch/internal/retry"
)

var (
	cfgFile      string
	holdingsFile string
	symbolList   string
	threshold    float64
	lookback     int
	workers      int
	dryRun       bool
	format       string
	verbose      bool
	noProgress   bool
	historyLimit int

	exitCode = pipeline.ExitOK
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "momentumwatch",
		Short: "Screen NSE stocks for 3-month momentum and email exit/watch alerts",
		Long: `momentumwatch fetches daily closes for the configured universe and your
holdings, computes the change over the lookback window, and emails:

  Stocks to exit   - held, change below the threshold
  Stocks to watch  - not held, change at or above the threshold
  Unevaluated      - symbols whose momentum could not be computed

Exit codes: 0 done, 1 configuration error, 2 fatal run failure,
3 alert could not be delivered (results saved locally).

Examples:
  momentumwatch --holdings invested_stocks.csv
  momentumwatch --symbols RELIANCE,INFY,TCS --dry-run
  momentumwatch --threshold 20 --format json`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	rootCmd.Flags().StringVar(&holdingsFile, "holdings", "", "holdings CSV (overrides config)")
	rootCmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated symbols to screen instead of the universe")
	rootCmd.Flags().Float64Var(&threshold, "threshold", 0, "momentum threshold percentage")
	rootCmd.Flags().IntVar(&lookback, "lookback", 0, "lookback window in months")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "number of parallel workers")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compose the alert but do not send it")
	rootCmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "hide the progress bar")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the history database",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to show")
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == pipeline.ExitOK {
			exitCode = pipeline.ExitConfig
		}
	}
	os.Exit(exitCode)
}

func setupLogging(level string) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	// Override config with CLI flags
	if holdingsFile != "" {
		cfg.Holdings.File = holdingsFile
	}
	if symbolList != "" {
		cfg.Universe.Symbols = config.SplitList(symbolList)
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Screen.ThresholdPct = threshold
	}
	if cmd.Flags().Changed("lookback") {
		cfg.Screen.LookbackMonths = lookback
	}
	if workers > 0 {
		cfg.Scanner.Workers = workers
	}
	if dryRun {
		cfg.Alert.DryRun = true
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return err
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("Interrupted, stopping run")
		cancel()
	}()

	rec, err := openRecorder(cfg)
	if err != nil {
		log.Warnf("Run history disabled: %v", err)
		rec = recorder.NewNoopRecorder()
	}
	defer rec.Close()

	deps := pipeline.Deps{
		Provider: newProvider(cfg),
		Recorder: rec,
		Metrics:  metrics.NewRunMetrics(),
		Pusher:   metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job),
	}
	if !cfg.Alert.DryRun {
		deps.Sender = newSender(cfg)
	}

	// The total is only known once the universe is loaded
	var (
		bar     *progressbar.ProgressBar
		barOnce sync.Once
	)
	if !noProgress && format == "table" {
		deps.Progress = func(scanned, total int) {
			barOnce.Do(func() { bar = newProgressBar(total) })
			bar.Set(scanned)
		}
	}

	out := pipeline.New(cfg, deps).Run(ctx)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if format == "json" {
		if err := outputJSON(out); err != nil {
			return err
		}
	} else {
		outputTable(out)
	}

	exitCode = out.ExitCode
	if out.Err != nil {
		if out.FallbackPath != "" {
			return fmt.Errorf("%w (results saved to %s)", out.Err, out.FallbackPath)
		}
		return out.Err
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if cfg.Database.SQLitePath == "" {
		return fmt.Errorf("%w: database.sqlite_path is not set", config.ErrInvalid)
	}
	rec, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
	if err != nil {
		return err
	}
	defer rec.Close()

	runs, err := rec.RecentRuns(historyLimit)
	if err != nil {
		return err
	}
	outputHistory(runs)
	return nil
}

func openRecorder(cfg *config.Config) (recorder.Recorder, error) {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder(), nil
	}
	return recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
}

func newProvider(cfg *config.Config) provider.Provider {
	yahoo := provider.NewYahooProvider(cfg.Provider.BaseURL, cfg.Provider.RateLimit, cfg.Provider.RequestTimeout)
	return provider.NewRetryingProvider(yahoo, retry.Policy{
		MaxAttempts: cfg.Provider.MaxAttempts,
		BaseBackoff: cfg.Provider.BaseBackoff,
		MaxBackoff:  30 * cfg.Provider.BaseBackoff,
	})
}

func newSender(cfg *config.Config) notifier.Sender {
	return notifier.NewSMTPSender(notifier.SMTPOptions{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		User:        cfg.SMTP.User,
		Password:    cfg.SMTP.AppPassword,
		From:        cfg.Sender(),
		FromName:    cfg.SMTP.FromName,
		ImplicitTLS: cfg.SMTP.ImplicitTLS,
		Timeout:     cfg.SMTP.Timeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.SMTP.MaxAttempts,
			BaseBackoff: cfg.SMTP.BaseBackoff,
		},
	})
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Screening"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
