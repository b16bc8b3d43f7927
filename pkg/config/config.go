// Package config defines the node's typed configuration surface (spec.md
// §6's "Config surface" table), loaded from the environment via
// github.com/caarlos0/env/v11. Field shape and the RELAYCORE_-prefixed env
// var convention follow the teacher's pkg/fleet PostgresConfig/MTLSConfig
// structs, which pair a json tag (for debug dumps) with an env tag (for
// process bootstrap).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Role selects which behavior table a node runs (spec.md §4).
type Role string

const (
	RoleService Role = "service"
	RoleGateway Role = "gateway"
)

// Config is the complete environment-driven configuration for a relaycore
// node, covering both Service and Gateway roles.
type Config struct {
	Role       Role   `json:"role"        env:"RELAYCORE_ROLE" envDefault:"service"`
	InstanceID string `json:"instance_id" env:"RELAYCORE_INSTANCE_ID,required"`

	// Node identity (pkg/certutil).
	PrivateKeyPEMPath string    `json:"private_key_pem_path" env:"RELAYCORE_PRIVATE_KEY_PEM_PATH" envDefault:"node.pem"`
	KeyExpiresOn      time.Time `json:"key_expires_on"       env:"RELAYCORE_KEY_EXPIRES_ON"`

	// Gateway handshake and outward connections (Service role only).
	GatewayPreSharedKey string   `json:"-" env:"RELAYCORE_GATEWAY_PRESHARED_KEY"`
	GatewayServersRaw   string   `json:"gateway_servers"  env:"RELAYCORE_GATEWAY_SERVERS"`
	HTTPHost            string   `json:"http_host"        env:"RELAYCORE_HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort            int      `json:"http_port"        env:"RELAYCORE_HTTP_PORT" envDefault:"8443"`
	RootRedirectURL     string   `json:"root_redirect_url" env:"RELAYCORE_ROOT_REDIRECT_URL"`

	// Frame and payload sizing.
	MaxBytesBeforeAuthentication int `json:"max_bytes_before_authentication" env:"RELAYCORE_MAX_BYTES_BEFORE_AUTHENTICATION" envDefault:"100000"`
	MaxMessageSize               int `json:"max_message_size"                env:"RELAYCORE_MAX_MESSAGE_SIZE"                envDefault:"5000000"`
	WebsocketReceiveBufferSize   int `json:"websocket_receive_buffer_size"   env:"RELAYCORE_WEBSOCKET_RECEIVE_BUFFER_SIZE"   envDefault:"4096"`

	// Timers.
	PingInterval           time.Duration `json:"ping_interval"             env:"RELAYCORE_PING_INTERVAL"             envDefault:"30s"`
	ReconnectInterval      time.Duration `json:"reconnect_interval"        env:"RELAYCORE_RECONNECT_INTERVAL"        envDefault:"30s"`
	ControlResponseTimeout time.Duration `json:"control_response_timeout"  env:"RELAYCORE_CONTROL_RESPONSE_TIMEOUT"  envDefault:"30s"`
	ClientInactivityTimeout time.Duration `json:"client_inactivity_timeout" env:"RELAYCORE_CLIENT_INACTIVITY_TIMEOUT" envDefault:"5m"`
	ConnectionRetention    time.Duration `json:"connection_retention"      env:"RELAYCORE_CONNECTION_RETENTION"      envDefault:"24h"`

	// Feature toggles.
	DisablePingMessages          bool `json:"disable_ping_messages"           env:"RELAYCORE_DISABLE_PING_MESSAGES"`
	DisableDatabaseClientHistory bool `json:"disable_database_client_history" env:"RELAYCORE_DISABLE_DATABASE_CLIENT_HISTORY"`
	InMemoryClientList           bool `json:"in_memory_client_list"           env:"RELAYCORE_IN_MEMORY_CLIENT_LIST"`
	DisableDatabaseStatistics    bool `json:"disable_database_statistics"    env:"RELAYCORE_DISABLE_DATABASE_STATISTICS"`

	AllowedProtocolVersionsRaw string `json:"allowed_protocol_versions" env:"RELAYCORE_ALLOWED_PROTOCOL_VERSIONS" envDefault:"1"`

	// Persistence (pkg/registry, pkg/audit).
	SQLitePath string `json:"sqlite_path" env:"RELAYCORE_SQLITE_PATH" envDefault:"relaycore.db"`
	AuditDir   string `json:"audit_dir"   env:"RELAYCORE_AUDIT_DIR"   envDefault:"audit"`

	// Health server (pkg/health).
	HealthHost string `json:"health_host" env:"RELAYCORE_HEALTH_HOST" envDefault:"0.0.0.0"`
	HealthPort int     `json:"health_port" env:"RELAYCORE_HEALTH_PORT" envDefault:"8080"`
}

// Load parses process environment variables into a Config, applying
// defaults and validating required fields.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that struct tags alone can't
// express (spec.md §7's "Fatal startup: missing required config").
func (c *Config) Validate() error {
	switch c.Role {
	case RoleService, RoleGateway:
	default:
		return fmt.Errorf("config: role must be %q or %q, got %q", RoleService, RoleGateway, c.Role)
	}
	if c.Role == RoleGateway && c.GatewayPreSharedKey == "" {
		return fmt.Errorf("config: gateway pre-shared key is required for role %q", RoleGateway)
	}
	if len(c.GatewayServers()) > 0 && c.GatewayPreSharedKey == "" {
		return fmt.Errorf("config: gateway pre-shared key is required when gateway servers are configured")
	}
	if len(c.AllowedProtocolVersions()) == 0 {
		return fmt.Errorf("config: at least one allowed protocol version is required")
	}
	return nil
}

// GatewayServers splits the comma-separated gatewayServers value into
// individual outward gateway URLs, ignoring blank entries.
func (c *Config) GatewayServers() []string {
	return splitNonEmpty(c.GatewayServersRaw, ",")
}

// AllowedProtocolVersions parses the comma-separated set of protocol
// version integers an agent's handshake may assert.
func (c *Config) AllowedProtocolVersions() []int {
	parts := splitNonEmpty(c.AllowedProtocolVersionsRaw, ",")
	versions := make([]int, 0, len(parts))
	for _, p := range parts {
		var v int
		if _, err := fmt.Sscanf(p, "%d", &v); err == nil {
			versions = append(versions, v)
		}
	}
	return versions
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
