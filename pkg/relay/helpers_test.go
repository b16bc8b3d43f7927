package relay

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/freitascorp/relaycore/pkg/audit"
	"github.com/freitascorp/relaycore/pkg/bus"
	"github.com/freitascorp/relaycore/pkg/certutil"
	"github.com/freitascorp/relaycore/pkg/config"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/metrics"
	"github.com/freitascorp/relaycore/pkg/registry"
	"github.com/freitascorp/relaycore/pkg/relay/behavior"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDeps(t *testing.T) *behavior.Deps {
	t.Helper()
	key, err := certutil.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &behavior.Deps{
		Registry:                registry.NewMemoryStore(),
		Directory:                directory.New(),
		GatewayDirectory:        directory.NewGateway(),
		Correlator:              correlator.New(),
		Bus:                     bus.New(),
		Metrics:                 metrics.New(),
		Audit:                   audit.NewFileStore(t.TempDir()),
		PrivateKey:              key,
		InstanceID:              "node-under-test",
		MachineName:             "test-machine",
		ServerVersion:           "test",
		AllowedProtocolVersions: []int{1},
		ControlResponseTimeout:  2 * time.Second,
		PingInterval:            30 * time.Second,
		GatewayPreSharedKey:     "test-psk",
	}
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Role:                         config.RoleService,
		InstanceID:                   "node-under-test",
		MaxBytesBeforeAuthentication: 100_000,
		MaxMessageSize:               5_000_000,
		PingInterval:                 30 * time.Second,
		ReconnectInterval:            30 * time.Millisecond,
		AllowedProtocolVersionsRaw:   "1",
	}
}
