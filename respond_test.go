package webcore

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteResponseHeadersAndDefaults(t *testing.T) {
	req := newRequest()
	resp := NewResponse()
	resp.FromString("hello")
	resp.ContentType = "text/plain"
	resp.AddCookie(Cookie{Name: "SID", Value: "abc"})

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	require.NoError(t, writeResponse(bw, req, resp, "webcore", true, ""))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, out, "Set-Cookie: SID=abc; Path=/\r\n")
	assert.Contains(t, out, "Accept-Ranges: bytes\r\n")
	assert.Contains(t, out, "Connection: Keep-Alive\r\n")
	assert.Contains(t, out, "Content-Type: text/plain\r\n")
	assert.True(t, strings.HasSuffix(out, "hello"))
}

func TestWriteResponseDefaultsTo204WhenEmpty(t *testing.T) {
	req := newRequest()
	resp := NewResponse()

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	require.NoError(t, writeResponse(bw, req, resp, "webcore", false, ""))
	assert.Contains(t, buf.String(), "HTTP/1.1 204 No Content\r\n")
	assert.Contains(t, buf.String(), "Connection: close\r\n")
}

func TestNegotiateCompressionGzipsLargeTextBody(t *testing.T) {
	body := []byte(strings.Repeat("a", 4096))
	out, gzipped, err := negotiateCompression(body, false, true, "text/plain")
	require.NoError(t, err)
	assert.True(t, gzipped)
	assert.Less(t, len(out), len(body))
}

func TestNegotiateCompressionSkipsSmallBody(t *testing.T) {
	body := []byte("short")
	out, gzipped, err := negotiateCompression(body, false, true, "text/plain")
	require.NoError(t, err)
	assert.False(t, gzipped)
	assert.Equal(t, body, out)
}

func TestNegotiateCompressionDecompressesWhenClientLacksGzip(t *testing.T) {
	plain := []byte(strings.Repeat("b", 4096))
	compressed, err := gzipBytes(plain)
	require.NoError(t, err)

	out, gzipped, err := negotiateCompression(compressed, true, false, "text/plain")
	require.NoError(t, err)
	assert.False(t, gzipped)
	assert.Equal(t, plain, out)
}

func TestWriteResponseIncludesBearerChallenge(t *testing.T) {
	req := newRequest()
	req.AuthorizationHeader = "Bearer bad"
	resp := NewResponse()
	resp.SetStatus(401)

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	require.NoError(t, writeResponse(bw, req, resp, "webcore", false, `Bearer realm="api", error="invalid_token"`))
	assert.Contains(t, buf.String(), `WWW-Authenticate: Bearer realm="api", error="invalid_token"`)
}
