package webcore

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCheckBasicPlaintext(t *testing.T) {
	a, err := NewAuthenticator(&Config{BasicAuthUsers: []string{"alice:secret"}})
	require.NoError(t, err)

	blob := base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	user, err := a.CheckBasic("Basic " + blob)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestCheckBasicBcryptAndCacheFastPath(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	a, err := NewAuthenticator(&Config{BasicAuthUsers: []string{"bob:" + string(hash)}})
	require.NoError(t, err)

	blob := base64.StdEncoding.EncodeToString([]byte("bob:s3cret"))
	user, err := a.CheckBasic("Basic " + blob)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)

	// Second sighting within the cache window must not re-run bcrypt; it
	// still resolves the same user from the cache fast path.
	user, err = a.CheckBasic("Basic " + blob)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestCheckBasicRejectsBadPassword(t *testing.T) {
	a, err := NewAuthenticator(&Config{BasicAuthUsers: []string{"alice:secret"}})
	require.NoError(t, err)

	blob := base64.StdEncoding.EncodeToString([]byte("alice:wrong"))
	_, err = a.CheckBasic("Basic " + blob)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindAuthRequired, e.Kind)
}

func TestCheckBearerSuccessAndBadSignature(t *testing.T) {
	cfg := &Config{
		BearerAuthEnabled: true,
		BearerRealm:       "api",
		BearerCallbacks: BearerCallbacks{
			DecodeVerify: func(token string) (string, bool) {
				if token == "good" {
					return "decoded-good", true
				}
				return "", false
			},
			Expiration: func(decoded string) (time.Time, bool) {
				return time.Now().Add(time.Minute), true
			},
		},
	}
	a, err := NewAuthenticator(cfg)
	require.NoError(t, err)

	decoded, failure := a.CheckBearer("Bearer good", "/x")
	require.Nil(t, failure)
	assert.Equal(t, "decoded-good", decoded)

	_, failure = a.CheckBearer("Bearer bad", "/x")
	require.NotNil(t, failure)
	assert.Equal(t, "invalid_token", failure.Error)
}

func TestCheckBearerInsufficientScope(t *testing.T) {
	cfg := &Config{
		BearerAuthEnabled: true,
		BearerCallbacks: BearerCallbacks{
			DecodeVerify: func(token string) (string, bool) { return "decoded", true },
			Expiration:   func(string) (time.Time, bool) { return time.Now().Add(time.Minute), true },
			Scope:        func(decoded, resourceURL string) bool { return false },
		},
	}
	a, err := NewAuthenticator(cfg)
	require.NoError(t, err)

	_, failure := a.CheckBearer("Bearer tok", "/private")
	require.NotNil(t, failure)
	assert.Equal(t, "insufficient_scope", failure.Error)
}

func TestChallengeFormats(t *testing.T) {
	a, err := NewAuthenticator(&Config{BearerRealm: "api"})
	require.NoError(t, err)

	assert.Contains(t, a.Challenge(true, nil), "Basic realm=")
	assert.Contains(t, a.Challenge(false, &BearerFailure{Error: "invalid_token", Description: "expired"}), `error="invalid_token"`)
}
