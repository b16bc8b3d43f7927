package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/freitascorp/relaycore/pkg/audit"
	"github.com/freitascorp/relaycore/pkg/bus"
	"github.com/freitascorp/relaycore/pkg/certutil"
	"github.com/freitascorp/relaycore/pkg/config"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/metrics"
	"github.com/freitascorp/relaycore/pkg/registry"
	"github.com/freitascorp/relaycore/pkg/relay"
	"github.com/freitascorp/relaycore/pkg/relay/behavior"
)

// newLogger builds the process logger, grounded on the teacher's
// newLogger: a single slog.TextHandler over stderr, level gated by --debug.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relaycore node (Service or Gateway role, per RELAYCORE_ROLE)",
		Long: `serve loads configuration from the environment, brings up this node's
WebSocket ingress and health endpoints, and blocks until interrupted.

Examples:
  RELAYCORE_ROLE=service RELAYCORE_INSTANCE_ID=svc-1 relaycore serve
  RELAYCORE_ROLE=gateway RELAYCORE_INSTANCE_ID=gw-1 relaycore serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := newLogger()
			deps, err := buildDeps(cfg, logger)
			if err != nil {
				return fmt.Errorf("relaycore: build dependencies: %w", err)
			}

			var node *relay.Node
			switch cfg.Role {
			case config.RoleGateway:
				node = relay.NewGatewayNode(cfg, deps, logger)
			default:
				node = relay.NewServiceNode(cfg, deps, logger)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := node.Start(ctx); err != nil {
				return fmt.Errorf("relaycore: start node: %w", err)
			}

			fmt.Printf("relaycore node starting\n")
			fmt.Printf("  Role:        %s\n", cfg.Role)
			fmt.Printf("  Instance ID: %s\n", cfg.InstanceID)
			fmt.Printf("  HTTP addr:   %s:%d\n", cfg.HTTPHost, cfg.HTTPPort)
			fmt.Println("  Press Ctrl+C to stop")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			<-sigCh
			fmt.Println("\nStopping relaycore node...")

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			return node.Stop(stopCtx)
		},
	}
	return cmd
}

// buildDeps wires the shared dependency set every node role needs:
// persistence (registry, audit), node identity, and the in-process
// coordination primitives (correlator, directories, bus, metrics).
func buildDeps(cfg *config.Config, logger *slog.Logger) (*behavior.Deps, error) {
	key, err := certutil.LoadOrGenerate(cfg.PrivateKeyPEMPath)
	if err != nil {
		return nil, fmt.Errorf("load or generate node key: %w", err)
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = cfg.InstanceID
	}

	return &behavior.Deps{
		Registry:                reg,
		Directory:               directory.New(),
		GatewayDirectory:        directory.NewGateway(),
		Correlator:              correlator.New(),
		Bus:                     bus.New(),
		Metrics:                 metrics.New(),
		Audit:                   audit.NewFileStore(cfg.AuditDir),
		PrivateKey:              key,
		InstanceID:              cfg.InstanceID,
		MachineName:             hostname,
		ServerVersion:           version,
		AllowedProtocolVersions: cfg.AllowedProtocolVersions(),
		PingInterval:            cfg.PingInterval,
		ControlResponseTimeout:  cfg.ControlResponseTimeout,
		GatewayPreSharedKey:     cfg.GatewayPreSharedKey,
	}, nil
}

// buildRegistry picks the tenant registry backend: an in-process map for
// single-instance/dev use, or the SQLite-backed store for anything that
// needs liveness state to survive a restart.
func buildRegistry(cfg *config.Config) (registry.Registry, error) {
	if cfg.InMemoryClientList {
		return registry.NewMemoryStore(), nil
	}
	store, err := registry.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite registry at %q: %w", cfg.SQLitePath, err)
	}
	return registry.NewResilient(store), nil
}
