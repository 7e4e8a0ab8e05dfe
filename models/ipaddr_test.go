package models

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPAddrNormalizesMapped(t *testing.T) {
	a := NewIPAddr(netip.MustParseAddr("::ffff:203.0.113.5"))
	assert.True(t, a.Is4())

	v, err := a.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte{203, 0, 113, 5}, v)

	var back IPAddr
	require.NoError(t, back.Scan(v))
	assert.Equal(t, netip.MustParseAddr("203.0.113.5"), back.Addr)
}

func TestIPAddrNull(t *testing.T) {
	v, err := IPAddr{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var a IPAddr
	require.NoError(t, a.Scan(nil))
	assert.False(t, a.IsValid())
	assert.Error(t, a.Scan([]byte{1, 2, 3}))
}

func TestIPNetworkScan(t *testing.T) {
	n := IPNetwork{Prefix: netip.MustParsePrefix("10.1.2.3/8")}
	v, err := n.Value()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/8", v)

	var back IPNetwork
	require.NoError(t, back.Scan([]byte("2001:db8::/32")))
	assert.True(t, back.Contains(netip.MustParseAddr("2001:db8::1")))
}
