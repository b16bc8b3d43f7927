package audit

import (
	"context"
	"os"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	return NewFileStore(dir)
}

func TestAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, &Event{Type: EventAuthPortal, OrganizationID: "org-1", ClientID: "portal-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, &Event{Type: EventPolicyViolation, OrganizationID: "org-2", ClientID: "agent-1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := s.Query(ctx, QueryOptions{OrganizationID: "org-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventAuthPortal {
		t.Fatalf("unexpected query result: %+v", events)
	}
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	e := &Event{Type: EventAuthAgent}
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected Timestamp to be assigned")
	}
}

func TestQueryEmptyLogReturnsNoEvents(t *testing.T) {
	s := newTestStore(t)
	events, err := s.Query(context.Background(), QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestQuerySinceFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	if err := s.Append(ctx, &Event{Type: EventAuthPortal, Timestamp: past}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, &Event{Type: EventAuthPortal}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := s.Query(ctx, QueryOptions{Since: time.Now().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 recent event, got %d", len(events))
	}
}

func TestQueryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, &Event{Type: EventAuthPortal, OrganizationID: "org-1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	events, err := s.Query(ctx, QueryOptions{OrganizationID: "org-1", Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events due to limit, got %d", len(events))
	}
}

func TestNewFileStoreCreatesDir(t *testing.T) {
	base := t.TempDir()
	dir := base + "/nested/audit"
	NewFileStore(dir)
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
}
