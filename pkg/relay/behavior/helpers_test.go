package behavior

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/freitascorp/relaycore/pkg/audit"
	"github.com/freitascorp/relaycore/pkg/bus"
	"github.com/freitascorp/relaycore/pkg/certutil"
	"github.com/freitascorp/relaycore/pkg/connstate"
	"github.com/freitascorp/relaycore/pkg/correlator"
	"github.com/freitascorp/relaycore/pkg/directory"
	"github.com/freitascorp/relaycore/pkg/metrics"
	"github.com/freitascorp/relaycore/pkg/registry"
)

// fakeConn is a test double for connstate.Writer that records sent frames.
type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	closeCode connstate.CloseCode
}

func (f *fakeConn) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(code connstate.CloseCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeConn) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	key, err := certutil.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &Deps{
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

func newConn(deps *Deps, initial connstate.State) (*connstate.SocketState, *fakeConn) {
	fc := &fakeConn{}
	s := connstate.New("conn-"+initial.String(), fc)
	s.SetState(initial)
	return s, fc
}

// decodeLastFrame decodes the most recent frame written to conn as a
// PlainText envelope JSON. Every behavior in this package replies PlainText,
// SignOnly, or Encrypt; tests that only care about the envelope shape (not
// the wrapping) use this against PlainText-wrapped replies.
func decodeLastFrame(conn *fakeConn, v any) error {
	data := conn.last()
	if data == nil {
		return fmt.Errorf("no frame was written")
	}
	return json.Unmarshal(data, v)
}
