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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/open-workshop/storage/pkg/api"
	"github.com/open-workshop/storage/pkg/archive"
	"github.com/open-workshop/storage/pkg/client"
	"github.com/open-workshop/storage/pkg/config"
	"github.com/open-workshop/storage/pkg/engine"
	"github.com/open-workshop/storage/pkg/log"
	"github.com/open-workshop/storage/pkg/metrics"
	"github.com/open-workshop/storage/pkg/registry"
	"github.com/open-workshop/storage/pkg/token"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ow-storage",
	Short: "Open Workshop storage service",
	Long: `ow-storage is the storage service of the Open Workshop platform.

It ingests mod archives and images on behalf of the manager service,
normalizes them into canonical packed form and promotes them into
permanent storage, streaming progress to subscribed clients.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ow-storage version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("config", "", "path to YAML configuration file")
	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
	serveCmd.Flags().String("root", "", "storage root directory (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storage HTTP/WS service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.ListenAddr = listen
		}
		if root, _ := cmd.Flags().GetString("root"); root != "" {
			cfg.RootDir = root
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")

		if err := cfg.Validate(); err != nil {
			return err
		}
		metrics.SetVersion(Version)
		metrics.SetComponent("archiver", true, "")
		metrics.SetComponent("storage_root", true, "")

		codec := token.NewCodec(cfg.TransferJWTSecret)
		if !codec.HasSecret() {
			logger.Warn().Msg("TRANSFER_JWT_SECRET is not set, transfer endpoints will reject every token and callbacks are skipped")
		}
		static := token.NewStatic(cfg.Tokens)
		tool := archive.NewTool(cfg.ArchiverBin)
		reg := registry.New(cfg.RootDir)
		mgr := client.New(cfg.ManagerURL, cfg.CallbackURL(), cfg.CheckAccessToken, cfg.CallbackTTL(), codec)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng := engine.New(ctx, reg, tool, mgr, cfg.TransferMaxBytes, cfg.DownloadIdleTimeout())
		srv := api.NewServer(cfg, eng, reg, codec, static, mgr)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		// In-flight background downloads are abandoned on restart by
		// contract; give them a moment to observe cancellation and
		// persist their last state.
		eng.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info().Msg("stopped")
		return nil
	},
}
