package rpc

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDigestChallenge(t *testing.T) {
	header := `qop="auth",algorithm=MD5-sess,realm="monero-rpc", nonce="kVmRYw+lSQ80tTK3zj6/aA==", stale=false`
	params, err := parseDigestChallenge(header)
	require.NoError(t, err)
	assert.Equal(t, "monero-rpc", params.realm)
	assert.Equal(t, algoMD5Sess, params.algorithm)
	assert.Equal(t, "kVmRYw+lSQ80tTK3zj6/aA==", params.nonce)
	assert.Empty(t, params.opaque)
}

func TestParseDigestChallengeMissingNonce(t *testing.T) {
	_, err := parseDigestChallenge(`qop="auth",algorithm=MD5,realm="monero-rpc"`)
	require.Error(t, err)
}

func TestBestChallengePrefersSess(t *testing.T) {
	values := []string{
		`Digest qop="auth",algorithm=MD5,realm="monero-rpc",nonce="a",stale=false`,
		`Digest qop="auth",algorithm=MD5-sess,realm="monero-rpc",nonce="a",stale=false`,
	}
	best, err := bestChallenge(values)
	require.NoError(t, err)
	assert.Equal(t, algoMD5Sess, best.algorithm)
}

func TestBestChallengeKeepsOpaque(t *testing.T) {
	values := []string{
		`Digest qop="auth",algorithm=MD5,realm="monero-rpc",nonce="a",stale=false`,
		`Digest qop="auth",algorithm=MD5-sess,realm="monero-rpc",nonce="a",stale=false,opaque=5PCCDS2k5PCCDS2k`,
	}
	best, err := bestChallenge(values)
	require.NoError(t, err)
	assert.Equal(t, "5PCCDS2k5PCCDS2k", best.opaque)
}

func TestDigestAuthorizeAfterChallenge(t *testing.T) {
	seed := uint64(1)
	auth := newDigestAuth("test user", "test password", &seed)

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Add("Www-Authenticate", `Digest qop="auth",algorithm=MD5,realm="monero-rpc",nonce="JmNFnqfRJdOr/vFZ2CpDQg==",stale=false`)

	header, err := auth.authorizeFromChallenge(resp, http.MethodPost, "/json_rpc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(header, `Digest username="test user", realm="monero-rpc", nonce="JmNFnqfRJdOr/vFZ2CpDQg==", uri="/json_rpc", qop=auth, nc=00000001, cnonce="`))
	assert.Contains(t, header, "algorithm=MD5")

	// A subsequent preemptive authorize reuses the challenge and advances
	// the nonce count.
	header2, ok, err := auth.authorize(http.MethodPost, "/json_rpc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, header2, "nc=00000002")
}

func TestDigestAuthorizeWithoutChallengeIsNotOK(t *testing.T) {
	auth := newDigestAuth("u", "p", nil)
	_, ok, err := auth.authorize(http.MethodPost, "/json_rpc")
	require.NoError(t, err)
	assert.False(t, ok)
}
