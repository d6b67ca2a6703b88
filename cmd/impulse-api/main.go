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

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/impulselabs/impulse/internal/auth"
	"github.com/impulselabs/impulse/internal/bus"
	"github.com/impulselabs/impulse/internal/config"
	"github.com/impulselabs/impulse/internal/database"
	"github.com/impulselabs/impulse/internal/impulse"
	"github.com/impulselabs/impulse/internal/logging"
	"github.com/impulselabs/impulse/internal/request"
	"github.com/impulselabs/impulse/internal/server"
	"github.com/impulselabs/impulse/internal/storage"
	"github.com/impulselabs/impulse/internal/venue"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "impulse-api",
		Short: "Ephemeral geolocated broadcast service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newVenueCommand())

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
	cmd.PersistentFlags().String("storage-mode", defaults.GetString("storage.mode"), "Storage backend (sqlite, memory)")
	cmd.PersistentFlags().String("bus-mode", defaults.GetString("bus.mode"), "Event bus backend (memory, nats)")
	cmd.PersistentFlags().String("nats-url", defaults.GetString("nats.url"), "NATS server URL")
	cmd.PersistentFlags().Duration("sweep-interval", defaults.GetDuration("sweep.interval"), "Expiry sweep interval")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "storage.mode", "storage-mode")
	bindFlag(cmd, "bus.mode", "bus-mode")
	bindFlag(cmd, "nats.url", "nats-url")
	bindFlag(cmd, "sweep.interval", "sweep-interval")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

func newTokenCommand() *cobra.Command {
	var identity string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.TokenIssuer,
				Audience:      appConfig.TokenAudience,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(cmd.Context(), identity)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in: %ds\n", token, expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Identity the token speaks for")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func newVenueCommand() *cobra.Command {
	venueCmd := &cobra.Command{
		Use:   "venue",
		Short: "Manage the venue directory",
	}

	var (
		venueID string
		name    string
		lat     float64
		lng     float64
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a venue",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			venues, err := storage.NewVenueStore(db)
			if err != nil {
				return err
			}
			if err := venues.SaveVenue(cmd.Context(), venue.Venue{
				VenueID: venueID,
				Name:    name,
				Lat:     lat,
				Lng:     lng,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "venue %s saved\n", venueID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&venueID, "id", "", "Venue identifier")
	addCmd.Flags().StringVar(&name, "name", "", "Display name")
	addCmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	addCmd.Flags().Float64Var(&lng, "lng", 0, "Longitude")
	_ = addCmd.MarkFlagRequired("id")
	_ = addCmd.MarkFlagRequired("name")

	venueCmd.AddCommand(addCmd)
	return venueCmd
}

type stores struct {
	impulses impulse.Store
	requests request.Store
	venues   impulse.VenueDirectory
	close    func() error
}

func openStores(appConfig config.AppConfig, logger *zap.Logger) (*stores, error) {
	if appConfig.StorageMode == config.StorageMemory {
		return &stores{
			impulses: storage.NewMemoryImpulseStore(),
			requests: storage.NewMemoryRequestStore(),
			venues:   storage.NewMemoryVenueDirectory(),
			close:    func() error { return nil },
		}, nil
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	impulses, err := storage.NewImpulseStore(db)
	if err != nil {
		return nil, err
	}
	requests, err := storage.NewRequestStore(db)
	if err != nil {
		return nil, err
	}
	venues, err := storage.NewVenueStore(db)
	if err != nil {
		return nil, err
	}
	return &stores{
		impulses: impulses,
		requests: requests,
		venues:   venues,
		close: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}, nil
}

func openBus(appConfig config.AppConfig, logger *zap.Logger) (bus.Bus, func(), error) {
	if appConfig.BusMode == config.BusNATS {
		conn, err := nats.Connect(appConfig.NATSURL, nats.Name("impulse-api"))
		if err != nil {
			return nil, nil, err
		}
		natsBus, err := bus.NewNATSBus(conn, logger)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return natsBus, conn.Close, nil
	}
	return bus.NewDispatcher(), func() {}, nil
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

	backing, err := openStores(appConfig, logger)
	if err != nil {
		return err
	}
	defer backing.close() //nolint:errcheck

	eventBus, closeBus, err := openBus(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
	})
	if err != nil {
		return err
	}

	impulseService, err := impulse.NewService(impulse.ServiceConfig{
		Store:      backing.impulses,
		Venues:     backing.venues,
		Bus:        eventBus,
		IDProvider: impulse.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ledger, err := request.NewLedger(request.LedgerConfig{
		Store:      backing.requests,
		Impulses:   impulseService,
		Bus:        eventBus,
		IDProvider: impulse.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Impulses: impulseService,
		Requests: ledger,
		Tokens:   tokenIssuer,
		Bus:      eventBus,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := impulse.NewSweeper(impulseService, appConfig.SweepInterval, logger)
	sweeper.Start(signalCtx)

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
		if err := sweeper.Stop(shutdownCtx); err != nil {
			logger.Warn("sweeper shutdown incomplete", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
