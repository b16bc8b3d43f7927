// SQLite-backed durable tenant registry, suitable for single-node
// deployments. Uses the pure-Go modernc.org/sqlite driver so the binary
// stays CGo-free.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Registry with SQLite persistence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) the registry database at
// dbPath. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS registrations (
			organization_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			type TEXT NOT NULL,
			connection_id TEXT NOT NULL DEFAULT '',
			machine_registration_id TEXT NOT NULL DEFAULT '',
			client_version TEXT NOT NULL DEFAULT '',
			gateway_id TEXT NOT NULL DEFAULT '',
			client_ip TEXT NOT NULL DEFAULT '',
			last_updated_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (organization_id, client_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_tenant_type ON registrations(organization_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_registrations_last_updated ON registrations(last_updated_on)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Register(_ context.Context, r Record) (bool, error) {
	_, err := s.db.Exec(`
		INSERT INTO registrations (
			organization_id, client_id, type, connection_id, machine_registration_id,
			client_version, gateway_id, client_ip, last_updated_on
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, client_id) DO UPDATE SET
			type=excluded.type, connection_id=excluded.connection_id,
			machine_registration_id=excluded.machine_registration_id,
			client_version=excluded.client_version, gateway_id=excluded.gateway_id,
			client_ip=excluded.client_ip, last_updated_on=excluded.last_updated_on
	`, r.OrganizationID, r.ClientID, string(r.Type), r.ConnectionID, r.MachineRegistrationID,
		r.ClientVersion, r.GatewayID, r.ClientIP, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("registry: register: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) UpdateActivity(_ context.Context, organizationID, clientID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE registrations SET last_updated_on = ? WHERE organization_id = ? AND client_id = ?`,
		time.Now().UTC(), organizationID, clientID)
	if err != nil {
		return false, fmt.Errorf("registry: updateActivity: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) Deregister(_ context.Context, organizationID, clientID, connectionID string, _, _ uint64) (bool, error) {
	res, err := s.db.Exec(
		`DELETE FROM registrations WHERE organization_id = ? AND client_id = ? AND (connection_id = ? OR connection_id = '')`,
		organizationID, clientID, connectionID)
	if err != nil {
		return false, fmt.Errorf("registry: deregister: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) GetAgents(ctx context.Context, organizationID string) ([]Record, error) {
	return s.listByTypeAndTenant(ctx, organizationID, Agent)
}

func (s *SQLiteStore) GetPortals(ctx context.Context, organizationID string) ([]Record, error) {
	return s.listByTypeAndTenant(ctx, organizationID, Portal)
}

func (s *SQLiteStore) listByTypeAndTenant(ctx context.Context, organizationID string, kind ClientKind) ([]Record, error) {
	cutoff := time.Now().Add(-livenessWindow).UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id, client_id, type, connection_id, machine_registration_id,
		       client_version, gateway_id, client_ip, last_updated_on
		FROM registrations
		WHERE organization_id = ? AND type = ? AND last_updated_on >= ?
	`, organizationID, string(kind), cutoff)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kindStr string
		if err := rows.Scan(&r.OrganizationID, &r.ClientID, &kindStr, &r.ConnectionID,
			&r.MachineRegistrationID, &r.ClientVersion, &r.GatewayID, &r.ClientIP, &r.LastUpdatedOn); err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}
		r.Type = ClientKind(kindStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PurgeStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM registrations WHERE last_updated_on < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("registry: purgeStale: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
