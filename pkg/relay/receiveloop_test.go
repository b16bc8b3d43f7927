package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/freitascorp/relaycore/pkg/connstate"
)

// fakeConn is a test double for connstate.Writer, mirroring the one in
// pkg/relay/behavior/helpers_test.go.
type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeConn) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(code connstate.CloseCode, reason string) error { return nil }

func TestCheckSizeCap_PreAuthCumulativeBudget(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxBytesBeforeAuthentication = 10
	l := &Loop{Config: cfg, Logger: testLogger()}

	state := connstate.New("c1", &fakeConn{})
	state.SetState(connstate.PortalUnauth)
	state.RecordReceived(11)

	assert.NotEmpty(t, l.checkSizeCap(state, 5), "expected a violation once pre-auth byte budget is exceeded")
}

func TestCheckSizeCap_PostAuthPerFrameBudget(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxMessageSize = 10
	l := &Loop{Config: cfg, Logger: testLogger()}

	state := connstate.New("c1", &fakeConn{})
	state.SetState(connstate.PortalAuth)

	assert.Empty(t, l.checkSizeCap(state, 5), "unexpected violation for a small authenticated frame")
	assert.NotEmpty(t, l.checkSizeCap(state, 50), "expected a violation for an oversized authenticated frame")
}

func TestTokenExpired(t *testing.T) {
	cfg := newTestConfig(t)
	l := &Loop{Config: cfg, Logger: testLogger()}

	state := connstate.New("c1", &fakeConn{})
	state.SetState(connstate.PortalAuth)

	assert.False(t, l.tokenExpired(state), "a stream with no token expiration set should never be treated as expired")

	state.SetTokenExpiration(time.Now().Add(-time.Minute))
	assert.True(t, l.tokenExpired(state), "expected tokenExpired once the stored expiration is in the past")

	state.SetTokenExpiration(time.Now().Add(time.Hour))
	assert.False(t, l.tokenExpired(state), "a future expiration should not be reported as expired")
}
