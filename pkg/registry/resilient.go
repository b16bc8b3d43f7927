package registry

import (
	"context"

	"github.com/freitascorp/relaycore/pkg/resilience"
)

// Resilient wraps a Registry's write paths with a circuit breaker and
// bounded retry (§7), so a flaky backing store degrades into fast
// rejections instead of blocking every writer on a wedged database. Reads
// (GetAgents/GetPortals/PurgeStale) pass straight through the embedded
// Registry: they're polled on a schedule that already tolerates an
// occasional failed cycle, and retrying them buys nothing a wedged caller
// would notice.
type Resilient struct {
	Registry
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewResilient wraps inner's writes with a default circuit breaker and
// retry policy (§7's "a flaky dependency degrades gracefully").
func NewResilient(inner Registry) *Resilient {
	return &Resilient{
		Registry: inner,
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "registry"}),
		retry:    resilience.DefaultRetryConfig(),
	}
}

func (r *Resilient) Register(ctx context.Context, rec Record) (bool, error) {
	var ok bool
	err := r.breaker.Execute(func() error {
		return resilience.Retry(ctx, r.retry, func(int) error {
			var err error
			ok, err = r.Registry.Register(ctx, rec)
			return err
		})
	})
	return ok, err
}

func (r *Resilient) UpdateActivity(ctx context.Context, organizationID, clientID string) (bool, error) {
	var ok bool
	err := r.breaker.Execute(func() error {
		return resilience.Retry(ctx, r.retry, func(int) error {
			var err error
			ok, err = r.Registry.UpdateActivity(ctx, organizationID, clientID)
			return err
		})
	})
	return ok, err
}

func (r *Resilient) Deregister(ctx context.Context, organizationID, clientID, connectionID string, bytesReceived, bytesSent uint64) (bool, error) {
	var ok bool
	err := r.breaker.Execute(func() error {
		return resilience.Retry(ctx, r.retry, func(int) error {
			var err error
			ok, err = r.Registry.Deregister(ctx, organizationID, clientID, connectionID, bytesReceived, bytesSent)
			return err
		})
	})
	return ok, err
}
