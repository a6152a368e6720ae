package xcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURNSegments(t *testing.T) {
	u := NetworkURN("urn:ocn:polkadot:2004")
	assert.Equal(t, "polkadot", u.Consensus())
	assert.Equal(t, "2004", u.ChainID())
	assert.False(t, u.IsRelay())
	assert.Equal(t, NetworkURN("urn:ocn:polkadot:0"), u.RelayOf())
	assert.True(t, u.RelayOf().IsRelay())
}

func TestURNMalformed(t *testing.T) {
	for _, s := range []string{"", "urn:ocn:polkadot", "foo:bar:baz:qux", "urn:x:polkadot:0"} {
		u := NetworkURN(s)
		assert.Empty(t, u.Consensus(), s)
		assert.Empty(t, u.ChainID(), s)
		assert.Equal(t, NetworkURN(""), u.RelayOf(), s)
	}
}
