// zwave-link - Z-Wave JS Server integration bridge
//
// This is the main entry point for the zwave-link daemon. It maintains a
// supervised WebSocket connection to a Z-Wave JS Server instance and exposes
// the controller's lights and covers as entities over a local HTTP/WebSocket
// API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/zwave-link/internal/api"
	"github.com/nerrad567/zwave-link/internal/bridge"
	"github.com/nerrad567/zwave-link/internal/discovery"
	"github.com/nerrad567/zwave-link/internal/driver"
	"github.com/nerrad567/zwave-link/internal/infrastructure/config"
	"github.com/nerrad567/zwave-link/internal/infrastructure/logging"
	"github.com/nerrad567/zwave-link/internal/store"
	"github.com/nerrad567/zwave-link/internal/zwave"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting zwave-link",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open controller store
	controllers, err := store.Open(store.Config{
		Path:        cfg.Store.Path,
		WALMode:     cfg.Store.WALMode,
		BusyTimeout: cfg.Store.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening controller store: %w", err)
	}
	defer func() {
		log.Info("closing controller store")
		if closeErr := controllers.Close(); closeErr != nil {
			log.Error("error closing controller store", "error", closeErr)
		}
	}()
	log.Info("controller store opened", "path", cfg.Store.Path)

	// Resolve the server endpoint: explicit config first, then mDNS
	// discovery, then the last address persisted for this controller.
	endpoint, err := resolveEndpoint(ctx, cfg, controllers, log)
	if err != nil {
		return err
	}
	log.Info("server endpoint resolved", "endpoint", endpoint)

	// Persist the controller record so the endpoint survives restarts
	// even when it was learned via discovery.
	if saveErr := controllers.Save(ctx, store.Controller{
		Identifier: cfg.Controller.Identifier,
		Address:    endpoint,
		Name:       cfg.Controller.Name,
		Model:      cfg.Controller.Model,
	}); saveErr != nil {
		log.Warn("failed to persist controller record", "error", saveErr)
	}

	// Build the supervised bridge. Each reconnection attempt dials a
	// fresh transport through this factory.
	zwaveLog := log.With("component", "zwave")
	connect := func(ctx context.Context, endpoint string) (zwave.Transport, error) {
		client, dialErr := zwave.Connect(ctx, zwave.Config{
			Endpoint:       endpoint,
			ConnectTimeout: cfg.GetConnectTimeout(),
			RequestTimeout: cfg.GetRequestTimeout(),
		})
		if dialErr != nil {
			return nil, dialErr
		}
		client.SetLogger(zwaveLog)
		return client, nil
	}

	supervisor := bridge.New(bridge.Config{
		Endpoint:             endpoint,
		ConnectTimeout:       cfg.GetConnectTimeout(),
		WatchdogInterval:     cfg.GetWatchdogInterval(),
		LivenessFailures:     cfg.Watchdog.LivenessFailures,
		ReconnectDelay:       cfg.GetReconnectDelay(),
		ReconnectMaxAttempts: cfg.Watchdog.ReconnectMaxAttempts,
	}, connect)
	supervisor.SetLogger(log.With("component", "bridge"))
	defer func() {
		log.Info("disconnecting from Z-Wave JS Server")
		supervisor.Disconnect()
	}()

	// Entity router translates external commands onto the bridge
	router := driver.New(supervisor, cfg.Controller.Identifier)
	router.SetLogger(log.With("component", "driver"))
	router.Start()
	defer router.Stop()

	// HTTP/WebSocket API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Router:     router,
		Supervisor: supervisor,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Establish the initial connection. The supervisor owns recovery from
	// here; a server that is down at startup is a configuration problem.
	if connectErr := supervisor.Connect(ctx); connectErr != nil {
		return fmt.Errorf("connecting to Z-Wave JS Server: %w", connectErr)
	}
	info := supervisor.Controller()
	log.Info("connected to Z-Wave JS Server",
		"home_id", info.HomeID,
		"server_version", info.ServerVersion,
		"driver_version", info.DriverVersion,
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Entity router
	// 3. Bridge
	// 4. Controller store

	log.Info("zwave-link stopped")
	return nil
}

// resolveEndpoint determines the Z-Wave JS Server address to dial.
func resolveEndpoint(ctx context.Context, cfg *config.Config, controllers *store.Store, log *logging.Logger) (string, error) {
	if cfg.Controller.Address != "" {
		return cfg.Controller.Address, nil
	}

	if cfg.Discovery.Enabled {
		log.Info("no address configured, scanning for servers via mDNS",
			"timeout", cfg.GetScanTimeout().String(),
		)
		servers, err := discovery.Scan(ctx, cfg.GetScanTimeout(), log.With("component", "discovery"))
		if err != nil {
			log.Warn("mDNS discovery failed", "error", err)
		}
		for _, srv := range servers {
			if srv.Endpoint != "" {
				log.Info("discovered server", "instance", srv.Instance, "endpoint", srv.Endpoint)
				return srv.Endpoint, nil
			}
		}
	}

	// Fall back to the last persisted address for this controller
	if saved, err := controllers.Get(ctx, cfg.Controller.Identifier); err == nil && saved.Address != "" {
		log.Info("using persisted controller address", "address", saved.Address)
		return saved.Address, nil
	}

	return "", fmt.Errorf("no server address configured and none discovered")
}

// getConfigPath returns the configuration file path.
// Uses ZWAVELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ZWAVELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
