package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olytrack/olytrack/internal/api/user"
	"github.com/olytrack/olytrack/internal/auth"
	"github.com/olytrack/olytrack/internal/catalog"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/practice"
	"github.com/olytrack/olytrack/internal/pubsub"
	"github.com/olytrack/olytrack/internal/virtual"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "dev-build"

func main() {
	rootCmd := &cobra.Command{
		Use:           "olytrack",
		Short:         "Olympiad practice tracker with judge-synced virtual contests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "configs/config.yaml", "path to config file")

	catalogCmd := &cobra.Command{Use: "catalog", Short: "Manage the contest catalog"}
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "load <dir>",
		Short: "Import contest YAML files into the database",
		Args:  cobra.ExactArgs(1),
		RunE:  catalogLoadMain,
	})

	rootCmd.AddCommand(
		&cobra.Command{Use: "serve", Short: "Start the HTTP server", RunE: serveMain},
		catalogCmd,
		&cobra.Command{Use: "version", Short: "Print the version", Run: versionMain},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config, installs the global logger and opens the database.
func setup(cmd *cobra.Command) (*config.Config, *gorm.DB, func(), error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.Logger.Level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("can't initialize zap logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	db, err := database.Init(cfg.Storage)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	zap.S().Info("database initialized successfully")
	return cfg, db, func() { logger.Sync() }, nil
}

func newStore(cfg *config.Config, db *gorm.DB) (kv.Store, error) {
	if cfg.Redis.Addr == "" {
		zap.S().Info("redis not configured, using the database key-value store")
		return kv.NewDatabase(db), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	zap.S().Infof("connected to redis at %s", cfg.Redis.Addr)
	return kv.NewRedis(client), nil
}

func serveMain(cmd *cobra.Command, _ []string) error {
	cfg, db, flush, err := setup(cmd)
	if err != nil {
		return err
	}
	defer flush()

	if cfg.Catalog != "" {
		if err := loadCatalog(cmd.Context(), db, cfg.Catalog); err != nil {
			return err
		}
	}

	store, err := newStore(cfg, db)
	if err != nil {
		return err
	}
	judges := judge.NewRegistry(cfg.Judges, store)
	for _, client := range judges.Clients() {
		zap.S().Infof("judge %s enabled", client.Platform())
	}
	broker := pubsub.GetBroker()

	engine := user.NewUserRouter(cfg, db, user.Services{
		Virtual:  virtual.NewService(db, judges, store, broker, cfg.Sync),
		Practice: practice.NewService(db, judges, store, cfg.Sync),
		Judges:   judges,
		Broker:   broker,
		GitHub:   auth.NewGitHubHandler(cfg, db, store),
	})
	srv := &http.Server{Addr: cfg.Listen, Handler: engine}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		zap.S().Infof("starting server at %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	zap.S().Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	zap.S().Info("server exited")
	return nil
}

func catalogLoadMain(cmd *cobra.Command, args []string) error {
	_, db, flush, err := setup(cmd)
	if err != nil {
		return err
	}
	defer flush()
	return loadCatalog(cmd.Context(), db, args[0])
}

func loadCatalog(ctx context.Context, db *gorm.DB, dir string) error {
	contests, err := catalog.LoadDir(dir)
	if err != nil {
		return err
	}
	stats, err := catalog.Import(ctx, db, contests)
	if err != nil {
		return fmt.Errorf("failed to import catalog: %w", err)
	}
	zap.S().Infof("loaded %d contests and %d problems from %s", stats.Contests, stats.Problems, dir)
	return nil
}

func versionMain(*cobra.Command, []string) {
	fmt.Println("olytrack", Version)
}
