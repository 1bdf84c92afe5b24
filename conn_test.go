package webcore

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAliveRequestedDefaultsTrueWhenUnset(t *testing.T) {
	c := &Conn{}
	req := newRequest()
	assert.True(t, c.keepAliveRequested(req))
}

func TestKeepAliveRequestedRespectsExplicitFalse(t *testing.T) {
	c := &Conn{}
	req := newRequest()
	no := false
	req.KeepAlive = &no
	assert.False(t, c.keepAliveRequested(req))
}

func TestCheckAuthSkippedWithoutAuthorizationHeader(t *testing.T) {
	c := &Conn{cfg: &Config{}}
	req := newRequest()
	assert.NoError(t, c.checkAuth(req))
}

func TestCheckAuthBasicSuccessSetsAuthUser(t *testing.T) {
	cfg := &Config{BasicAuthUsers: []string{"alice:secret"}}
	auth, err := NewAuthenticator(cfg)
	require.NoError(t, err)
	c := &Conn{cfg: cfg, auth: auth}

	req := newRequest()
	req.AuthorizationHeader = "Basic " + basicBlob("alice", "secret")
	require.NoError(t, c.checkAuth(req))
	assert.Equal(t, "alice", req.AuthUser)
}

func TestCheckAuthBasicFailurePropagatesError(t *testing.T) {
	cfg := &Config{BasicAuthUsers: []string{"alice:secret"}}
	auth, err := NewAuthenticator(cfg)
	require.NoError(t, err)
	c := &Conn{cfg: cfg, auth: auth}

	req := newRequest()
	req.AuthorizationHeader = "Basic " + basicBlob("alice", "wrong")
	assert.Error(t, c.checkAuth(req))
}

func TestCheckAuthBearerSkippedWhenNotEnabled(t *testing.T) {
	c := &Conn{cfg: &Config{BearerAuthEnabled: false}}
	req := newRequest()
	req.AuthorizationHeader = "Bearer whatever"
	assert.NoError(t, c.checkAuth(req))
}

func TestCheckAuthBearerInsufficientScopeSetsTokenReason(t *testing.T) {
	cfg := &Config{
		BearerAuthEnabled: true,
		BearerCallbacks: BearerCallbacks{
			DecodeVerify: func(token string) (string, bool) { return "decoded", true },
			Expiration:   func(string) (time.Time, bool) { return time.Now().Add(time.Minute), true },
			Scope:        func(decoded, resourceURL string) bool { return false },
		},
	}
	auth, err := NewAuthenticator(cfg)
	require.NoError(t, err)
	c := &Conn{cfg: cfg, auth: auth}

	req := newRequest()
	req.AuthorizationHeader = "Bearer tok"
	err = c.checkAuth(req)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, TokenReasonInsufficientScope, e.TokenReason)
}

func TestWriteFailureRendersInsufficientScopeChallenge(t *testing.T) {
	cfg := &Config{BearerAuthEnabled: true, BearerRealm: "api"}
	auth, err := NewAuthenticator(cfg)
	require.NoError(t, err)
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()
	c := &Conn{cfg: cfg, auth: auth, netConn: serverSide}

	req := newRequest()
	req.AuthorizationHeader = "Bearer tok"

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	c.writeFailure(bw, req, &Error{Kind: KindAuthTokenInvalid, TokenReason: TokenReasonInsufficientScope, Message: "insufficient_scope"})
	require.NoError(t, bw.Flush())
	assert.Contains(t, buf.String(), `error="insufficient_scope"`)
	assert.NotContains(t, buf.String(), `error="invalid_token"`)
}

func TestReadBodyURLEncodedFormPopulatesParams(t *testing.T) {
	c := &Conn{cfg: &Config{}}
	req := newRequest()
	req.IsURLEncodedForm = true
	body := "a=1&b=2"
	req.ContentLength = int64(len(body))

	br := bufio.NewReader(strings.NewReader(body))
	require.NoError(t, c.readBody(br, req))
	assert.Equal(t, "1", req.Param("a"))
	assert.Equal(t, "2", req.Param("b"))
}

func TestReadBodyRawPayloadWhenNotForm(t *testing.T) {
	c := &Conn{cfg: &Config{}}
	req := newRequest()
	body := "raw-bytes-here"
	req.ContentLength = int64(len(body))

	br := bufio.NewReader(strings.NewReader(body))
	require.NoError(t, c.readBody(br, req))
	assert.Equal(t, body, string(req.Payload))
}

func basicBlob(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
