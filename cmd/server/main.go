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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nexcrm/mailgate/internal/api"
	"github.com/nexcrm/mailgate/internal/config"
	"github.com/nexcrm/mailgate/internal/connection"
	"github.com/nexcrm/mailgate/internal/discovery"
	"github.com/nexcrm/mailgate/internal/mailbox"
	"github.com/nexcrm/mailgate/internal/orchestrator"
	"github.com/nexcrm/mailgate/internal/providers"
	"github.com/nexcrm/mailgate/internal/store"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "mailgate",
		Short: "Mail account autodiscovery, connection testing and mailbox engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mailgate version %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.WithField("version", version).Info("Starting mailgate")

	st, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open store")
		return err
	}
	defer st.Close()

	directory := providers.NewDirectory()

	confCache := discovery.NewConfigCache()
	engine := discovery.NewEngine(directory, confCache, logger)
	engine.PatternFallback = cfg.Discovery.PatternFallback
	if cfg.Discovery.ISPDBBaseURL != "" {
		engine.ISPDBBaseURL = cfg.Discovery.ISPDBBaseURL
	}

	tester := connection.NewTester(logger)
	tester.SetTimeout(cfg.ConnectTimeout)

	factory, err := mailbox.NewFactory(mailbox.Mode(cfg.ClientMode), cfg.GatewayBaseURL, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create mailbox factory")
		return err
	}

	orch, err := orchestrator.New(factory, st, engine, tester, confCache, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create orchestrator")
		return err
	}
	defer orch.Close()

	server := api.NewServer(orch, logger, cfg.AuthToken)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-errChan:
		logger.WithError(err).Error("Server error")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Forced shutdown")
	}
	logger.Info("Shut down cleanly")
	return nil
}
