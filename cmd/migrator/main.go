package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"blog_migrator/internal/config"
	"blog_migrator/internal/db"
	"blog_migrator/internal/fetcher"
	"blog_migrator/internal/logger"
	"blog_migrator/internal/metrics"
	"blog_migrator/internal/pipeline"
	"blog_migrator/internal/publisher"
	"blog_migrator/internal/rewriter"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	configPath string
	envFiles   []string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "migrator",
	Short:        "Migrate blog posts: extract, rewrite, schedule and publish",
	Long:         `Moves articles from a source blog through AI rewriting to a Blogger destination, tracking every post by status.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		// Таблицы идут в stdout, логи в stderr.
		logger.InitWithOutput(os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "Dotenv files to load (default .env)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app связывает конфигурацию, хранилище и конвейер для одной команды.
type app struct {
	cfg      *config.Config
	store    db.Store
	metrics  *metrics.Metrics
	pipeline *pipeline.Orchestrator
}

// apiPublishInterval ограничивает частоту вызовов Blogger API.
const apiPublishInterval = time.Second

// newApp загружает конфигурацию и собирает конвейер. Ключ AI-провайдера
// нужен только командам, которые переписывают посты (withRewriter).
func newApp(ctx context.Context, withRewriter bool) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var rw pipeline.Rewriter
	if withRewriter {
		r, err := rewriter.NewFromConfig(cfg.Rewrite)
		if err != nil {
			return nil, err
		}
		rw = r
	}

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	dispatcher := pipeline.NewDispatcher(store,
		publisher.NewAPI("", rate.NewLimiter(rate.Every(apiPublishInterval), 1)),
		publisher.NewEmail(publisher.NewSMTPSender(), cfg.Publish.ImageTimeout(), cfg.Publish.MaxImages),
	)
	orch := pipeline.New(store,
		fetcher.New(cfg.Extract.UserAgent, cfg.Extract.Timeout()),
		rw,
		dispatcher,
		pipeline.Options{Workers: cfg.Workers, MaxAttempts: cfg.MaxAttempts, Metrics: m},
	)

	return &app{cfg: cfg, store: store, metrics: m, pipeline: orch}, nil
}

func (a *app) Close() {
	a.store.Close()
}

// withApp открывает app на время выполнения команды.
func withApp(withRewriter bool, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, withRewriter)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}
