package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type tokenValidationResponse struct {
	Success        bool   `json:"success"`
	OrganizationID string `json:"organizationId,omitempty"`
}

func TestRequestResponse(t *testing.T) {
	b := New()
	b.HandleRequest("ValidateAgentRequestToken", func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return tokenValidationResponse{Success: req.Token == "good", OrganizationID: "org-1"}, nil
	})

	raw, err := b.Request(context.Background(), "ValidateAgentRequestToken", map[string]string{"token": "good"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var resp tokenValidationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.OrganizationID != "org-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRequestNoHandler(t *testing.T) {
	b := New()
	_, err := b.Request(context.Background(), "Nope", nil)
	if err == nil {
		t.Fatal("expected error for unregistered conversation")
	}
}

func TestRequestTimesOut(t *testing.T) {
	b := New()
	b.HandleRequest("Slow", func(ctx context.Context, payload json.RawMessage) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Request(ctx, "Slow", nil); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("AgentActivityMessage")
	defer unsubscribe()

	if err := b.Publish("AgentActivityMessage", map[string]string{"activityType": "Connected"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case raw := <-ch:
		var got map[string]string
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["activityType"] != "Connected" {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("PublicKey")
	unsubscribe()

	if err := b.Publish("PublicKey", map[string]string{"hash": "x"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("unsubscribed channel should not receive further messages")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClosePreventsFurtherRequests(t *testing.T) {
	b := New()
	b.HandleRequest("X", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return "ok", nil
	})
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := b.Request(context.Background(), "X", nil); err == nil {
		t.Fatal("expected error requesting on a closed bus")
	}
}

func TestConcurrentPublishConsume(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("AgentActivityMessage")
	defer unsubscribe()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = b.Publish("AgentActivityMessage", map[string]int{"i": i})
		}(i)
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for received < n {
			select {
			case <-ch:
				received++
			case <-time.After(2 * time.Second):
				close(done)
				return
			}
		}
		close(done)
	}()

	wg.Wait()
	<-done
	if received == 0 {
		t.Fatal("expected at least some messages delivered")
	}
}
