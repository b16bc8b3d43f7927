package registry

import (
	"context"
	"testing"
	"time"
)

func eachStore(t *testing.T) map[string]Registry {
	sqliteStore, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Registry{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestRegisterAndListScopedByTenant(t *testing.T) {
	for name, store := range eachStore(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := store.Register(ctx, Record{
				OrganizationID: "org-1", ClientID: "agent-1", Type: Agent, ConnectionID: "c1",
			})
			if err != nil || !ok {
				t.Fatalf("register: ok=%v err=%v", ok, err)
			}
			ok, err = store.Register(ctx, Record{
				OrganizationID: "org-2", ClientID: "agent-2", Type: Agent, ConnectionID: "c2",
			})
			if err != nil || !ok {
				t.Fatalf("register: ok=%v err=%v", ok, err)
			}

			agentsOrg1, err := store.GetAgents(ctx, "org-1")
			if err != nil {
				t.Fatalf("getAgents: %v", err)
			}
			if len(agentsOrg1) != 1 || agentsOrg1[0].ClientID != "agent-1" {
				t.Fatalf("expected only org-1's agent, got %+v", agentsOrg1)
			}

			portalsOrg1, err := store.GetPortals(ctx, "org-1")
			if err != nil {
				t.Fatalf("getPortals: %v", err)
			}
			if len(portalsOrg1) != 0 {
				t.Fatalf("expected no portals, got %+v", portalsOrg1)
			}
		})
	}
}

func TestUpdateActivityRequiresExistingRow(t *testing.T) {
	for name, store := range eachStore(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := store.UpdateActivity(ctx, "org-1", "missing")
			if err != nil {
				t.Fatalf("updateActivity: %v", err)
			}
			if ok {
				t.Fatal("expected false for nonexistent row")
			}

			if _, err := store.Register(ctx, Record{OrganizationID: "org-1", ClientID: "agent-1", Type: Agent}); err != nil {
				t.Fatalf("register: %v", err)
			}
			ok, err = store.UpdateActivity(ctx, "org-1", "agent-1")
			if err != nil || !ok {
				t.Fatalf("updateActivity: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestDeregister(t *testing.T) {
	for name, store := range eachStore(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Register(ctx, Record{
				OrganizationID: "org-1", ClientID: "agent-1", Type: Agent, ConnectionID: "c1",
			}); err != nil {
				t.Fatalf("register: %v", err)
			}

			ok, err := store.Deregister(ctx, "org-1", "agent-1", "c1", 100, 200)
			if err != nil || !ok {
				t.Fatalf("deregister: ok=%v err=%v", ok, err)
			}

			agents, err := store.GetAgents(ctx, "org-1")
			if err != nil {
				t.Fatalf("getAgents: %v", err)
			}
			if len(agents) != 0 {
				t.Fatalf("expected no agents after deregister, got %+v", agents)
			}
		})
	}
}

func TestGetAgentsExcludesInactive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.mu.Lock()
	store.records[recordKey{"org-1", "agent-stale"}] = Record{
		OrganizationID: "org-1", ClientID: "agent-stale", Type: Agent,
		LastUpdatedOn: time.Now().Add(-10 * time.Minute),
	}
	store.mu.Unlock()

	if _, err := store.Register(ctx, Record{OrganizationID: "org-1", ClientID: "agent-fresh", Type: Agent}); err != nil {
		t.Fatalf("register: %v", err)
	}

	agents, err := store.GetAgents(ctx, "org-1")
	if err != nil {
		t.Fatalf("getAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].ClientID != "agent-fresh" {
		t.Fatalf("expected only the fresh agent, got %+v", agents)
	}
}

func TestPurgeStale(t *testing.T) {
	for name, store := range eachStore(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Register(ctx, Record{OrganizationID: "org-1", ClientID: "agent-1", Type: Agent}); err != nil {
				t.Fatalf("register: %v", err)
			}

			switch s := store.(type) {
			case *MemoryStore:
				s.mu.Lock()
				r := s.records[recordKey{"org-1", "agent-1"}]
				r.LastUpdatedOn = time.Now().Add(-48 * time.Hour)
				s.records[recordKey{"org-1", "agent-1"}] = r
				s.mu.Unlock()
			case *SQLiteStore:
				if _, err := s.db.Exec(
					`UPDATE registrations SET last_updated_on = ? WHERE client_id = 'agent-1'`,
					time.Now().Add(-48*time.Hour).UTC()); err != nil {
					t.Fatalf("backdate: %v", err)
				}
			}

			n, err := store.PurgeStale(ctx)
			if err != nil {
				t.Fatalf("purgeStale: %v", err)
			}
			if n != 1 {
				t.Fatalf("purgeStale removed %d rows, want 1", n)
			}
		})
	}
}
