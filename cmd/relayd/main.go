package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenthq/relay/changebus"
	"github.com/agenthq/relay/errors"
	"github.com/agenthq/relay/facade"
	"github.com/agenthq/relay/internal/config"
	"github.com/agenthq/relay/logger"
	"github.com/agenthq/relay/relay"
	"github.com/agenthq/relay/relay/auth"
	"github.com/agenthq/relay/vault"
)

const buildVersion = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "relayd",
	Short: "relayd - the AgentHQ local relay gateway",
	Long: `relayd is the single always-on process that sits between remote
clients (mobile apps, other machines, browser extensions) and the local
agent harness: one WebSocket/REST gateway, a markdown-file vault, and a
priority work queue.

Examples:
  relayd serve                 # start the gateway
  relayd serve --config ./relay.toml
  relayd version`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay gateway",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the relayd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "relayd "+buildVersion)
	},
}

var configInitVaultPath string
var configInitOutPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage relayd configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter relay.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(configInitOutPath, configInitVaultPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote "+configInitOutPath)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to relay.toml (optional; env vars always apply)")
	configInitCmd.Flags().StringVar(&configInitOutPath, "out", "relay.toml", "path to write")
	configInitCmd.Flags().StringVar(&configInitVaultPath, "vault", "", "vault directory for the generated config")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := logger.Initialize(false); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.GatewayInfow("startup failed: bad config", "error", err)
		os.Exit(1)
	}

	store, err := vault.Open(cfg.Vault.Path)
	if err != nil {
		logger.GatewayInfow("startup failed: vault unreachable", "error", err, "path", cfg.Vault.Path)
		os.Exit(1)
	}
	if n, err := vault.MigrateLegacyJobs(store); err != nil {
		logger.GatewayInfow("legacy job migration failed", "error", err)
	} else if n > 0 {
		logger.GatewayInfow("migrated legacy jobs into canonical layout", "count", n)
	}

	bus, err := changebus.New(cfg.Vault.Path, cfg.Queue.DebounceInterval)
	if err != nil {
		logger.GatewayInfow("startup failed: change bus", "error", err)
		os.Exit(1)
	}
	bus.Start()
	defer bus.Stop()

	vaultFacade := facade.New(store, bus)
	authMgr := auth.NewManager(cfg.Auth.APIKey, cfg.Auth.SessionExpiry, cfg.Auth.JWTSigningKey)

	stopSweep := make(chan struct{})
	go authMgr.StartSweeper(5*time.Minute, stopSweep)
	defer close(stopSweep)

	var bridge *relay.UpstreamBridge
	if cfg.Upstream.Host != "" {
		url := fmt.Sprintf("ws://%s:%d/ws", cfg.Upstream.Host, cfg.Upstream.Port)
		bridge = relay.NewUpstreamBridge(url, bus)
		bridge.Start()
		defer bridge.Stop()
	}

	chatCfg := relay.ChatConfig{
		Endpoint:     "https://openrouter.ai/api/v1/chat/completions",
		APIKey:       cfg.Chat.OpenRouterAPIKey,
		DefaultModel: cfg.Chat.DefaultModel,
	}

	gw := relay.New(authMgr, vaultFacade, bus, bridge, chatCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.ServeWS)
	mux.Handle("/", gw.Router())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	serverErr := make(chan error, 1)
	go func() {
		logger.GatewayInfow("relay gateway listening", "addr", addr, "vault", cfg.Vault.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.GatewayInfow("startup failed: listen error", "error", err)
		os.Exit(1)
	case s := <-sig:
		logger.GatewayInfow("shutdown signal received", "signal", s.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.GatewayInfow("graceful shutdown error", "error", errors.Wrap(err, "http shutdown"))
	}

	logger.GatewayInfow("relay gateway stopped")
	return nil
}
