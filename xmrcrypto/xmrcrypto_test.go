package xmrcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fixtureViewKey = "ad2093a5705b9f33e6f0f0c1bc1f5f639c756cdfc168c8f2ac6127ccbdab3a03"
	fixtureAddress = "4613YiHLM6JMH4zejMB2zJY5TwQCxL8p65ufw8kBP5yxX9itmuGLqp1dS4tkVoTxjyH3aYhYNrtGHbQzJQP5bFus3KHVdmf"
)

func TestParseViewPairRoundTripsPrimaryAddress(t *testing.T) {
	vp, err := ParseViewPair(fixtureViewKey, fixtureAddress)
	require.NoError(t, err)

	got := GetSubaddress(vp, 0, 0)
	assert.Equal(t, fixtureAddress, got)
}

func TestGetSubaddressIsDeterministicAndDistinct(t *testing.T) {
	vp, err := ParseViewPair(fixtureViewKey, fixtureAddress)
	require.NoError(t, err)

	a1 := GetSubaddress(vp, 1, 97)
	a2 := GetSubaddress(vp, 1, 97)
	assert.Equal(t, a1, a2)

	b := GetSubaddress(vp, 1, 98)
	assert.NotEqual(t, a1, b)
	assert.NotEqual(t, fixtureAddress, a1)
}

func TestParseViewPairRejectsBadInputs(t *testing.T) {
	_, err := ParseViewPair("not-hex", fixtureAddress)
	assert.Error(t, err)

	_, err = ParseViewPair(fixtureViewKey, "not-an-address")
	assert.Error(t, err)

	_, err = ParseViewPair(fixtureViewKey, fixtureAddress[:len(fixtureAddress)-1]+"9")
	assert.Error(t, err)
}

func TestBase58RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x09, 0x0a},
		make([]byte, 69),
	}
	for _, c := range cases {
		encoded := EncodeAddress(c)
		decoded, err := DecodeAddress(encoded)
		require.NoError(t, err)
		assert.Equal(t, c, decoded)
	}
}
