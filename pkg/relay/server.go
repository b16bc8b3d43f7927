package relay

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/freitascorp/relaycore/pkg/certutil"
	"github.com/freitascorp/relaycore/pkg/config"
	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/control"
	"github.com/freitascorp/relaycore/pkg/health"
	"github.com/freitascorp/relaycore/pkg/relay/behavior"
	"github.com/freitascorp/relaycore/pkg/wire"
)

// Node is a running relaycore process: the HTTP mux serving the three
// ingress routes plus the node-level health/root routes, the internal
// health.Server, and — Service role only — the outward gateway keepers.
// Grounded on the teacher's WSServer.Start/Stop: one mux, one http.Server,
// graceful shutdown bounded by a drain timeout.
type Node struct {
	cfg    *config.Config
	deps   *behavior.Deps
	loop   *Loop
	logger *slog.Logger

	httpSrv    *http.Server
	healthSrv  *health.Server
	stopKeep   func()
	cancelRoot context.CancelFunc
}

// NewServiceNode wires a Service-role node: /agent and /portal ingress, the
// outward gateway keepers for every configured gateway server, and the
// external-request intake's home dispatch table.
func NewServiceNode(cfg *config.Config, deps *behavior.Deps, logger *slog.Logger) *Node {
	return newNode(cfg, deps, logger, NewServiceDispatch())
}

// NewGatewayNode wires a Gateway-role node: /gateway ingress only, no
// outward keepers.
func NewGatewayNode(cfg *config.Config, deps *behavior.Deps, logger *slog.Logger) *Node {
	return newNode(cfg, deps, logger, NewGatewayDispatch())
}

func newNode(cfg *config.Config, deps *behavior.Deps, logger *slog.Logger, serviceDispatch Dispatch) *Node {
	return &Node{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		loop:      &Loop{Deps: deps, Dispatch: serviceDispatch, Config: cfg, Logger: logger},
		healthSrv: health.NewServer(cfg.HealthHost, cfg.HealthPort),
	}
}

// Start brings the node's HTTP surface up and, for a Service-role node,
// launches the outward gateway keepers. It does not block.
func (n *Node) Start(ctx context.Context) error {
	rootCtx, cancel := context.WithCancel(ctx)
	n.cancelRoot = cancel

	n.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", n.cfg.HTTPHost, n.cfg.HTTPPort),
		Handler: n.buildMux(),
		BaseContext: func(_ net.Listener) context.Context {
			return rootCtx
		},
	}

	if err := n.healthSrv.Start(); err != nil {
		return fmt.Errorf("relay: start health server: %w", err)
	}
	n.healthSrv.SetReady(true)

	if n.cfg.Role == config.RoleService && len(n.cfg.GatewayServers()) > 0 {
		n.stopKeep = StartKeepers(rootCtx, n.cfg, n.deps, n.logger)
	}

	if n.deps.Bus != nil {
		(&control.Intake{Deps: n.deps}).Register()
	}

	go n.runBackgroundBusTasks(rootCtx)

	n.logger.Info("relaycore node starting", "role", n.cfg.Role, "addr", n.httpSrv.Addr)
	go func() {
		if err := n.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("relaycore http server exited", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the node down: cancel the root context (each live
// receive loop closes its stream within the §4.3/§5 10s drain bound), stop
// the outward keepers, then shut down the HTTP servers.
func (n *Node) Stop(ctx context.Context) error {
	if n.cancelRoot != nil {
		n.cancelRoot()
	}
	if n.stopKeep != nil {
		n.stopKeep()
	}

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := n.httpSrv.Shutdown(drainCtx); err != nil {
		n.logger.Warn("relay http server shutdown", "error", err)
	}
	return n.healthSrv.Stop(drainCtx)
}

// buildMux assembles the node's HTTP surface: the root/health routes plus
// whichever WebSocket ingress routes this node's dispatch table serves.
// Split out from Start so tests can exercise routing without binding a
// real listener (grounded on the teacher's WSServer.buildMux).
func (n *Node) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", n.handleRoot)
	mux.HandleFunc("/health", n.handleHealth)
	if n.cfg.Role == config.RoleService {
		mux.HandleFunc("/agent", n.handleIngress(connstate.AgentUnauth))
		mux.HandleFunc("/portal", n.handleIngress(connstate.PortalUnauth))
	}
	mux.HandleFunc("/gateway", n.handleIngress(connstate.GatewayUnauth))
	return mux
}

// handleRoot implements §6's "GET / → 302 to configured redirect URL if
// present, else 404".
func (n *Node) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if n.cfg.RootRedirectURL != "" {
		http.Redirect(w, r, n.cfg.RootRedirectURL, http.StatusFound)
		return
	}
	http.NotFound(w, r)
}

// handleHealth implements §6's "GET /health → 200" on the main ingress
// surface, distinct from the richer internal health.Server's /health and
// /ready (which also report per-dependency checks for orchestration
// probes).
func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleIngress returns the HTTP handler for one of the three WebSocket
// ingress routes: upgrade or reject with 400, then hand off to the receive
// loop with the given initial ConnectionState.
func (n *Node) handleIngress(initial connstate.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isWebsocketUpgrade(r) {
			http.Error(w, "Only websocket clients are allowed", http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			n.logger.Warn("websocket accept failed", "path", r.URL.Path, "error", err)
			return
		}
		n.loop.Serve(r.Context(), conn, initial)
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// publicKeyAnnounceInterval and dailyPurgeJitter match §6's "every 2 days,
// best-effort" and "DailyMessage ... with up to 30s jitter" bus tasks.
const (
	publicKeyAnnounceInterval = 2 * 24 * time.Hour
	dailyPurgeJitter          = 30 * time.Second
)

// runBackgroundBusTasks owns the two node-lifetime bus integrations that
// aren't tied to any one stream: a periodic self-announcement of this
// node's public key, and a daily registry/statistics purge triggered by the
// shared DailyMessage broadcast.
func (n *Node) runBackgroundBusTasks(ctx context.Context) {
	go n.announcePublicKeyPeriodically(ctx)
	go n.purgeOnDailyMessage(ctx)
}

func (n *Node) announcePublicKeyPeriodically(ctx context.Context) {
	n.announcePublicKeyOnce()
	ticker := time.NewTicker(publicKeyAnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.announcePublicKeyOnce()
		}
	}
}

func (n *Node) announcePublicKeyOnce() {
	if n.deps.PrivateKey == nil || n.deps.Bus == nil {
		return
	}
	hash, err := certutil.PublicKeyHash(&n.deps.PrivateKey.PublicKey)
	if err != nil {
		n.logger.Warn("public key announcement: hash", "error", err)
		return
	}
	pem, err := certutil.EncodePublicKeyPEM(&n.deps.PrivateKey.PublicKey)
	if err != nil {
		n.logger.Warn("public key announcement: encode", "error", err)
		return
	}
	announcement := wire.PublicKeyAnnouncement{
		Hash:         hash,
		PEM:          string(pem),
		InstanceName: n.deps.InstanceID,
		Expires:      time.Now().Add(publicKeyAnnounceInterval * 2),
	}
	if err := n.deps.Bus.Publish("PublicKeyAnnouncement", announcement); err != nil {
		n.logger.Warn("public key announcement: publish", "error", err)
	}
}

func (n *Node) purgeOnDailyMessage(ctx context.Context) {
	if n.deps.Bus == nil {
		return
	}
	ch, unsubscribe := n.deps.Bus.Subscribe("DailyMessage")
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			n.jitterThenPurge(ctx)
		}
	}
}

func (n *Node) jitterThenPurge(ctx context.Context) {
	jitter := time.Duration(mathrand.Int63n(int64(dailyPurgeJitter)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}
	if n.deps.Registry == nil {
		return
	}
	purged, err := n.deps.Registry.PurgeStale(ctx)
	if err != nil {
		n.logger.Warn("daily registry purge failed", "error", err)
		return
	}
	n.logger.Info("daily registry purge complete", "purged", purged)
}
