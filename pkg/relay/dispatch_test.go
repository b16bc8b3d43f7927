package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/freitascorp/relaycore/pkg/wire"
)

func TestNewServiceDispatch_CoversPortalAndAgentProtocol(t *testing.T) {
	d := NewServiceDispatch()
	for _, typ := range []wire.Type{
		wire.TypeAuthPortal,
		wire.TypeAuth,
		wire.TypePing,
		wire.TypeList,
		wire.TypeCommand,
		wire.TypeControl,
	} {
		_, ok := d[typ]
		assert.Truef(t, ok, "service dispatch missing handler for %q", typ)
	}
	_, ok := d[wire.TypeProxy]
	assert.False(t, ok, "service dispatch should not register proxy; that's gateway-only")
}

func TestNewGatewayDispatch_CoversHandshakeAndProxy(t *testing.T) {
	d := NewGatewayDispatch()
	for _, typ := range []wire.Type{wire.TypeAuthGateway, wire.TypePing, wire.TypeProxy} {
		_, ok := d[typ]
		assert.Truef(t, ok, "gateway dispatch missing handler for %q", typ)
	}
	_, ok := d[wire.TypeCommand]
	assert.False(t, ok, "gateway dispatch should not register command; that's service-only")
}
