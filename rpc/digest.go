package rpc

import (
	"crypto/md5"
	cryptorand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xmrgateway/gateway/xmrerrors"
)

// digestAlgorithm ranks the two digest algorithms monerod offers, worst
// first, so the last element of a sorted slice is the preferred choice.
type digestAlgorithm int

const (
	algoMD5 digestAlgorithm = iota
	algoMD5Sess
)

func (a digestAlgorithm) String() string {
	if a == algoMD5Sess {
		return "MD5-sess"
	}
	return "MD5"
}

func (a digestAlgorithm) sess() bool { return a == algoMD5Sess }

// authParams are the parameters monerod offered in a WWW-Authenticate
// challenge.
type authParams struct {
	realm     string
	algorithm digestAlgorithm
	nonce     string
	opaque    string
}

// parseDigestChallenge parses the portion of a WWW-Authenticate header
// after the leading "Digest " scheme token. monerod always offers
// qop=auth, so that directive is accepted but not otherwise inspected.
func parseDigestChallenge(header string) (authParams, error) {
	fields := splitChallengeFields(header)

	params := authParams{algorithm: algoMD5}
	haveNonce := false
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.TrimSpace(key) {
		case "realm":
			params.realm = value
		case "nonce":
			params.nonce = value
			haveNonce = true
		case "opaque":
			params.opaque = value
		case "algorithm":
			switch value {
			case "", "MD5":
				params.algorithm = algoMD5
			case "MD5-sess":
				params.algorithm = algoMD5Sess
			default:
				return authParams{}, fmt.Errorf("%w: unknown digest algorithm %q", xmrerrors.ErrAuth, value)
			}
		case "qop":
			// Only "auth" is supported; monerod never offers auth-int.
		}
	}
	if !haveNonce {
		return authParams{}, fmt.Errorf("%w: digest challenge missing nonce", xmrerrors.ErrAuth)
	}
	return params, nil
}

// splitChallengeFields splits a comma-separated list of key=value (or
// key="value") pairs, respecting quoted commas.
func splitChallengeFields(s string) []string {
	var fields []string
	inQuotes := false
	last := 0
	for i, c := range s {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				fields = append(fields, strings.TrimSpace(s[last:i]))
				last = i + 1
			}
		}
	}
	fields = append(fields, strings.TrimSpace(s[last:]))
	return fields
}

// bestChallenge picks the strongest of several WWW-Authenticate
// challenges monerod may offer in the same response (one per
// algorithm), preferring MD5-sess over MD5.
func bestChallenge(headerValues []string) (authParams, error) {
	var best authParams
	haveBest := false
	for _, v := range headerValues {
		rest, ok := strings.CutPrefix(v, "Digest ")
		if !ok {
			continue
		}
		parsed, err := parseDigestChallenge(rest)
		if err != nil {
			return authParams{}, err
		}
		if !haveBest || parsed.algorithm > best.algorithm {
			best = parsed
			haveBest = true
		}
	}
	if !haveBest {
		return authParams{}, fmt.Errorf("%w: no supported authentication challenge offered", xmrerrors.ErrAuth)
	}
	return best, nil
}

// digestAuth holds HTTP digest authentication state for one daemon
// connection: the configured credentials, a monotonically increasing
// nonce counter that resets whenever the server issues a fresh
// challenge, and the most recently accepted challenge parameters so
// subsequent requests can preemptively authenticate without another
// round trip.
type digestAuth struct {
	username string
	password string

	mu      sync.Mutex
	params  *authParams
	counter atomic.Uint32

	rng *rand.ChaCha8
}

// newDigestAuth builds digest auth state. seed, if non-nil, makes the
// client nonce (cnonce) generation deterministic, for reproducible
// tests; otherwise the client nonce source is seeded from the runtime's
// entropy pool.
func newDigestAuth(username, password string, seed *uint64) *digestAuth {
	var seedBytes [32]byte
	if seed != nil {
		binary.LittleEndian.PutUint64(seedBytes[:8], *seed)
	} else {
		// crypto/rand.Read always succeeds per its documented contract.
		_, _ = cryptorand.Read(seedBytes[:])
	}
	da := &digestAuth{
		username: username,
		password: password,
		rng:      rand.NewChaCha8(seedBytes),
	}
	da.counter.Store(1)
	return da
}

// authorize builds an Authorization header value by reusing the most
// recently accepted challenge, for preemptive authentication on
// subsequent requests against the same nonce. It returns ok=false if no
// challenge has been accepted yet.
func (d *digestAuth) authorize(method, path string) (value string, ok bool, err error) {
	d.mu.Lock()
	params := d.params
	d.mu.Unlock()
	if params == nil {
		return "", false, nil
	}
	value, err = d.buildHeader(*params, method, path)
	return value, true, err
}

// authorizeFromChallenge parses the WWW-Authenticate header(s) of a 401
// response, adopts the strongest offered challenge, resets the nonce
// counter, and builds an Authorization header for a retry.
func (d *digestAuth) authorizeFromChallenge(resp *http.Response, method, path string) (string, error) {
	params, err := bestChallenge(resp.Header.Values("Www-Authenticate"))
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.params = &params
	d.mu.Unlock()
	d.counter.Store(1)
	return d.buildHeader(params, method, path)
}

func (d *digestAuth) buildHeader(params authParams, method, path string) (string, error) {
	var cnonceBytes [16]byte
	d.mu.Lock()
	binary.LittleEndian.PutUint64(cnonceBytes[:8], d.rng.Uint64())
	binary.LittleEndian.PutUint64(cnonceBytes[8:], d.rng.Uint64())
	d.mu.Unlock()
	cnonce := hex.EncodeToString(cnonceBytes[:])

	nc := d.counter.Add(1) - 1
	ncStr := fmt.Sprintf("%08x", nc)

	ha1 := md5Hex(d.username + ":" + params.realm + ":" + d.password)
	if params.algorithm.sess() {
		ha1 = md5Hex(ha1 + ":" + params.nonce + ":" + cnonce)
	}
	ha2 := md5Hex(method + ":" + path)
	response := md5Hex(strings.Join([]string{ha1, params.nonce, ncStr, cnonce, "auth", ha2}, ":"))

	header := fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", qop=auth, nc=%s, cnonce="%s", response="%s", algorithm=%s`,
		d.username, params.realm, params.nonce, path, ncStr, cnonce, response, params.algorithm,
	)
	if params.opaque != "" {
		header += fmt.Sprintf(`, opaque=%s`, params.opaque)
	}
	return header, nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
