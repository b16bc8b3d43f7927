package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/freitascorp/relaycore/pkg/config"
	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/metrics"
	"github.com/freitascorp/relaycore/pkg/relay/behavior"
	"github.com/freitascorp/relaycore/pkg/resilience"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// GatewayKeeper is the outbound supervisor for one configured gateway URL
// (C11, §4.10, Service role only). Grounded on the teacher's WSAgent.Run /
// connectAndServeWS dial-register-reconnect loop, merged with
// HACoordinator.healthLoop/checkPeer's ticker-driven liveness probe into a
// single per-upstream-gateway goroutine.
type GatewayKeeper struct {
	URL    string
	Deps   *behavior.Deps
	Config *config.Config
	Logger *slog.Logger

	breaker *resilience.CircuitBreaker
}

// circuitBreaker returns this keeper's dial circuit breaker, created on
// first use. Run() only ever drives one GatewayKeeper from a single
// goroutine, so lazy init here needs no locking.
func (k *GatewayKeeper) circuitBreaker() *resilience.CircuitBreaker {
	if k.breaker == nil {
		k.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "gateway_keeper." + k.URL,
			ResetTimeout: 5 * k.Config.ReconnectInterval,
		})
	}
	return k.breaker
}

// Run dials, authenticates, and serves URL until ctx is cancelled,
// redialing after Config.ReconnectInterval on any failure.
func (k *GatewayKeeper) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := k.connectAndServe(ctx); err != nil {
			if g := k.failedAttempts(); g != nil {
				g.Add(1)
			}
			k.Logger.Warn("gateway keeper connection failed", "url", k.URL, "error", err, "retry_in", k.Config.ReconnectInterval)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(k.Config.ReconnectInterval):
		}
	}
}

// failedAttempts returns the per-URL dial-failure gauge (§4.10/§4.11),
// nil if this node has no metrics registry configured.
func (k *GatewayKeeper) failedAttempts() *metrics.Gauge {
	if k.Deps.Metrics == nil {
		return nil
	}
	return k.Deps.Metrics.GetGauge("relay.gateway_keeper.failed_attempts." + k.URL)
}

func (k *GatewayKeeper) connectAndServe(ctx context.Context) error {
	var conn *websocket.Conn
	dialErr := k.circuitBreaker().Execute(func() error {
		return resilience.Retry(ctx, resilience.DefaultRetryConfig(), func(int) error {
			c, _, err := websocket.Dial(ctx, k.URL, nil)
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
	})
	if dialErr != nil {
		return dialErr
	}

	state := connstate.New(uuid.NewString(), &wsWriter{conn: conn})
	state.SetState(connstate.GatewayUnauth)
	state.InterestMap = connstate.NewInterestMap()

	entry := k.Deps.GatewayDirectory.Add(state)
	defer k.Deps.GatewayDirectory.Remove(entry)

	livenessCtx, stopLiveness := context.WithCancel(ctx)
	defer stopLiveness()
	go k.livenessLoop(livenessCtx, state)

	dispatch := NewGatewayDispatch()
	dispatch[wire.TypeWelcome] = k.respondToWelcome

	loop := &Loop{Deps: k.Deps, Dispatch: dispatch, Config: k.Config, Logger: k.Logger}
	loop.readLoop(ctx, conn, state)

	stopLiveness()
	behavior.AfterDisconnect(context.Background(), k.Deps, state)
	return nil
}

// respondToWelcome completes pass one of the authgateway handshake (§4.5.3):
// the remote Gateway's welcome carries N1, and RespondToGatewayWelcome
// replies with the PSK-derived hash plus this side's own nonce N2. Since
// this side computes the hash itself from the configured PSK, sending the
// reply is this side's own authentication of the peer; moving to
// GatewayAuth here resets failedAttempts back to 0 per §4.10/§4.11.
func (k *GatewayKeeper) respondToWelcome(ctx context.Context, deps *behavior.Deps, state *connstate.SocketState, env *wire.Envelope) error {
	var welcome wire.WelcomePayload
	if err := env.DecodePayload(&welcome); err != nil {
		return err
	}
	if err := behavior.RespondToGatewayWelcome(deps, state, &welcome); err != nil {
		return err
	}
	if err := state.Authenticate(connstate.GatewayAuth, env.From, ""); err != nil {
		return err
	}
	if g := k.failedAttempts(); g != nil {
		g.Set(0)
	}
	return nil
}

// livenessLoop sends a ping whenever the stream has gone quiet for more
// than 2x the configured ping interval, per §4.10.
func (k *GatewayKeeper) livenessLoop(ctx context.Context, state *connstate.SocketState) {
	interval := k.Config.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !state.State().Authenticated() {
				continue
			}
			if time.Since(state.LastReceived()) < 2*interval {
				continue
			}
			env := &wire.Envelope{From: k.Deps.InstanceID, Type: wire.TypePing, MessageID: uuid.NewString()}
			if err := state.Write(env, wire.PlainText, nil); err != nil {
				k.Logger.Warn("gateway keeper liveness ping failed", "url", k.URL, "error", err)
			}
		}
	}
}

// StartKeepers launches one GatewayKeeper goroutine per configured outward
// gateway URL and returns a function that waits for all of them to return
// (which happens once ctx is cancelled).
func StartKeepers(ctx context.Context, cfg *config.Config, deps *behavior.Deps, logger *slog.Logger) func() {
	urls := cfg.GatewayServers()
	done := make(chan struct{}, len(urls))
	for _, url := range urls {
		k := &GatewayKeeper{URL: url, Deps: deps, Config: cfg, Logger: logger}
		go func() {
			k.Run(ctx)
			done <- struct{}{}
		}()
	}
	return func() {
		for range urls {
			<-done
		}
	}
}
