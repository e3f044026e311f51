package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foliolab/pulse/internal/auth"
	"github.com/foliolab/pulse/internal/blocklist"
	"github.com/foliolab/pulse/internal/config"
	"github.com/foliolab/pulse/internal/database"
	"github.com/foliolab/pulse/internal/geo"
	"github.com/foliolab/pulse/internal/logging"
	"github.com/foliolab/pulse/internal/presence"
	"github.com/foliolab/pulse/internal/projects"
	"github.com/foliolab/pulse/internal/server"
	"github.com/foliolab/pulse/internal/settings"
	"github.com/foliolab/pulse/internal/store"
	"github.com/foliolab/pulse/internal/visitors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulse-api",
		Short: "Pulse portfolio analytics backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("geo-endpoint", defaults.GetString("geo.endpoint"), "IP geolocation endpoint")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("admin.token_ttl_minutes"), "Admin token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Admin token signing secret (overrides env)")
	cmd.PersistentFlags().String("access-key", "", "Admin dashboard access key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "geo.endpoint", "geo-endpoint")
	bindFlag(cmd, "admin.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "admin.signing_secret", "signing-secret")
	bindFlag(cmd, "admin.access_key", "access-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	presenceTable := store.NewMemory()

	archive, err := visitors.NewArchive(visitors.ArchiveConfig{Database: db})
	if err != nil {
		return err
	}

	blocklistService, err := blocklist.NewService(blocklist.ServiceConfig{
		Database: db,
		Presence: presenceTable,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	geoResolver, err := geo.NewHTTPResolver(geo.HTTPResolverConfig{
		Endpoint: appConfig.GeoEndpoint,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tracker, err := presence.NewTracker(presence.TrackerConfig{
		Store:             presenceTable,
		Blocklist:         blocklistService,
		Archive:           archive,
		Geo:               geoResolver,
		Logger:            logger,
		HeartbeatInterval: appConfig.Presence.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	seriesPolicy := presence.SeriesPolicy{
		DenoiseSampleThreshold: appConfig.Presence.DenoiseSampleThreshold,
		DenoiseWindow:          appConfig.Presence.DenoiseWindow,
		DenoiseMaxDelta:        1,
		HighResWindow:          appConfig.Presence.HighResWindow,
		CoarseInterval:         appConfig.Presence.CoarseInterval,
		MaxSamples:             appConfig.Presence.MaxSamples,
	}

	reader, err := presence.NewReader(presence.ReaderConfig{
		Store:        presenceTable,
		Blocklist:    blocklistService,
		Series:       archive,
		Logger:       logger,
		ActiveWindow: appConfig.Presence.ActiveWindow,
		RefetchDelay: appConfig.Presence.RefetchDelay,
		Policy:       seriesPolicy,
	})
	if err != nil {
		return err
	}

	reaper, err := presence.NewReaper(presence.ReaperConfig{
		Store:         presenceTable,
		Blocklist:     blocklistService,
		Archive:       archive,
		Series:        archive,
		Logger:        logger,
		ActiveWindow:  appConfig.Presence.ActiveWindow,
		SweepInterval: appConfig.Presence.SweepInterval,
	})
	if err != nil {
		return err
	}

	projectService, err := projects.NewService(projects.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	settingsService, err := settings.NewService(settings.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	adminIssuer, err := auth.NewAdminIssuer(auth.AdminIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		AccessKey:     appConfig.AdminKey,
		Issuer:        "pulse-auth",
		Audience:      "pulse-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: adminIssuer,
		Tracker:      tracker,
		Reader:       reader,
		Reaper:       reaper,
		Blocklist:    blocklistService,
		Projects:     projectService,
		Settings:     settingsService,
		Visitors:     archive,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopReader := reader.Start(signalCtx)
	defer stopReader()
	stopReaper := reaper.Start(signalCtx)
	defer stopReaper()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
