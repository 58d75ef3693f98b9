package wallet

import (
	"context"
	"testing"

	"github.com/shaiso/AgentHire/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register("w1", StaticConnector{Addr: "0xpayer", Header: "signed"})

	c, err := reg.Resolver()(context.Background(), domain.WalletRef{ID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, "0xpayer", c.Address())

	h, err := c.PaymentHeader(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "signed", h)

	reg.Unregister("w1")
	_, err = reg.Resolve(context.Background(), domain.WalletRef{ID: "w1"})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestStaticConnector_NoHeader(t *testing.T) {
	_, err := StaticConnector{Addr: "0xpayer"}.PaymentHeader(context.Background(), nil)
	assert.Error(t, err)
}
