package webcore

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEndpoint struct {
	NopEndpoint
	opened bool
}

func (e *recordingEndpoint) OnOpening(req *Request) bool {
	e.opened = true
	return true
}

func TestAttemptUpgradeWritesHandshakeAndSpawnsClient(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	registry := NewEndpointRegistry()
	ep := &recordingEndpoint{}
	set := registry.Register("chat", ep)

	req := newRequest()
	req.URL = "chat"
	req.SecWebSocketKey = "dGhlIHNhbXBsZSBub25jZQ=="

	bw := bufio.NewWriter(server)
	resultCh := make(chan upgradeResult, 1)
	go func() { resultCh <- attemptUpgrade(bw, server, req, registry, nil, time.Second) }()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 101 Switching Protocols\r\n", line)

	var accept string
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
		if len(l) > len("Sec-WebSocket-Accept: ") && l[:len("Sec-WebSocket-Accept: ")] == "Sec-WebSocket-Accept: " {
			accept = l
		}
	}
	assert.Contains(t, accept, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")

	res := <-resultCh
	require.True(t, res.ok)
	assert.True(t, ep.opened)
	assert.Len(t, set.snapshot(), 1)
	res.client.teardown()
}

func TestAttemptUpgradeFailsForUnregisteredURL(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	registry := NewEndpointRegistry()
	req := newRequest()
	req.URL = "missing"

	bw := bufio.NewWriter(server)
	res := attemptUpgrade(bw, server, req, registry, nil, time.Second)
	assert.False(t, res.ok)
}

func TestWebsocketAcceptIsDeterministicForSameKey(t *testing.T) {
	assert.Equal(t, websocketAccept("abc"), websocketAccept("abc"))
	assert.NotEqual(t, websocketAccept("abc"), websocketAccept("def"))
}
