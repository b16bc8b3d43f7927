package correlator

import (
	"context"
	"testing"
	"time"
)

func TestPrepareCompleteDeliversResponse(t *testing.T) {
	c := New()
	key := Key{OrganizationID: "org-1", ClientID: "agent-1", MessageID: "msg-1"}

	await, cancel := c.Prepare(context.Background(), key, time.Second)
	defer cancel()

	go func() {
		c.Complete(key, "the-response")
	}()

	got, err := await()
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got != "the-response" {
		t.Fatalf("got %v, want the-response", got)
	}
	if c.Len() != 0 {
		t.Fatalf("expected entry to be removed after delivery, Len()=%d", c.Len())
	}
}

func TestPrepareTimesOut(t *testing.T) {
	c := New()
	key := Key{OrganizationID: "org-1", ClientID: "agent-1", MessageID: "msg-1"}

	await, cancel := c.Prepare(context.Background(), key, 20*time.Millisecond)
	defer cancel()

	_, err := await()
	if err == nil {
		t.Fatal("expected await to time out")
	}
	if c.Len() != 0 {
		t.Fatalf("expected entry to be removed after timeout, Len()=%d", c.Len())
	}
}

func TestDuplicateCompleteIsNoOp(t *testing.T) {
	c := New()
	key := Key{OrganizationID: "org-1", ClientID: "agent-1", MessageID: "msg-1"}

	await, cancel := c.Prepare(context.Background(), key, time.Second)
	defer cancel()

	c.Complete(key, "first")
	c.Complete(key, "second") // must not panic or block

	got, err := await()
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got != "first" {
		t.Fatalf("got %v, want first", got)
	}
}

func TestCancelBeforeCompleteIsNoOp(t *testing.T) {
	c := New()
	key := Key{OrganizationID: "org-1", ClientID: "agent-1", MessageID: "msg-1"}

	_, cancel := c.Prepare(context.Background(), key, time.Second)
	cancel()

	c.Complete(key, "too-late") // must not panic

	if c.Len() != 0 {
		t.Fatalf("expected no entries after cancel, Len()=%d", c.Len())
	}
}

func TestCompleteUnknownKeyIsNoOp(t *testing.T) {
	c := New()
	c.Complete(Key{OrganizationID: "org-1", ClientID: "agent-1", MessageID: "nope"}, "x")
	if c.Len() != 0 {
		t.Fatalf("expected Len()=0, got %d", c.Len())
	}
}

func TestDistinctTenantsDoNotCollide(t *testing.T) {
	c := New()
	keyA := Key{OrganizationID: "org-A", ClientID: "agent-1", MessageID: "msg-1"}
	keyB := Key{OrganizationID: "org-B", ClientID: "agent-1", MessageID: "msg-1"}

	awaitA, cancelA := c.Prepare(context.Background(), keyA, time.Second)
	defer cancelA()
	awaitB, cancelB := c.Prepare(context.Background(), keyB, time.Second)
	defer cancelB()

	c.Complete(keyB, "for-B")

	gotB, err := awaitB()
	if err != nil || gotB != "for-B" {
		t.Fatalf("awaitB = %v, %v", gotB, err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected org-A's entry to remain pending, Len()=%d", c.Len())
	}
	c.Complete(keyA, "for-A")
	gotA, err := awaitA()
	if err != nil || gotA != "for-A" {
		t.Fatalf("awaitA = %v, %v", gotA, err)
	}
}
