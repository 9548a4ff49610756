// Package cmd defines and implements the CLI commands for the technews-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/technews-ingest/internal/app"
	"github.com/JakeFAU/technews-ingest/internal/config"
	"github.com/JakeFAU/technews-ingest/internal/crawler"
	"github.com/JakeFAU/technews-ingest/internal/logging"
)

// App is the surface the commands use. It is an interface so tests can
// inject a fake.
type App interface {
	Crawl(ctx context.Context, from, to int) (crawler.Summary, error)
	CrawlUnseen(ctx context.Context, maxPages int) (crawler.Summary, error)
	Migrate(ctx context.Context) error
	StartServer() (string, error)
	Close()
}

// appFactory builds the App once config and logger are ready.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// session is stored in the command context by the root pre-run hook.
type session struct {
	cfg    config.Config
	app    App
	logger *zap.Logger
	once   sync.Once
}

// close releases the app. Cobra skips post-run hooks when RunE fails, so
// commands release through withSession instead.
func (sess *session) close() {
	sess.once.Do(func() {
		sess.app.Close()
		_ = sess.logger.Sync()
	})
}

// withSession resolves the session for a command and releases it on return.
func withSession(fn func(cmd *cobra.Command, args []string, sess *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		sess, err := resolveSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()
		return fn(cmd, args, sess)
	}
}

type sessionKey struct{}

// newRootCmd creates and configures the root command.
func newRootCmd(newApp appFactory) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "technews-ingest",
		Short: "Crawls a paginated news archive into a relational store.",
		Long: `technews-ingest walks the listing pages of a technology news archive,
extracts each article's title, body, labels and publication time, and stores
new articles exactly once.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if _, err := appInstance.StartServer(); err != nil {
				appInstance.Close()
				return fmt.Errorf("start operator server: %w", err)
			}

			sess := &session{cfg: cfg, app: appInstance, logger: logger}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey{}, sess))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); TECHNEWS_* environment variables override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newCrawlUnseenCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

func resolveSession(ctx context.Context) (*session, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	sess, ok := ctx.Value(sessionKey{}).(*session)
	if !ok || sess == nil {
		return nil, errors.New("application services not initialized")
	}
	return sess, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultAppFactory).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
