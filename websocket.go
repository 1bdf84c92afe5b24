package webcore

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // required by RFC 6455, not used for anything security-sensitive
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"
)

// EndpointRegistry maps an alias-relative URL to the Endpoint that owns
// it (§4.9's "if the URL matches a registered endpoint").
type EndpointRegistry struct {
	endpoints map[string]Endpoint
	sets      map[string]*ClientSet
}

// NewEndpointRegistry returns an empty registry.
func NewEndpointRegistry() *EndpointRegistry {
	return &EndpointRegistry{
		endpoints: make(map[string]Endpoint),
		sets:      make(map[string]*ClientSet),
	}
}

// Register binds an Endpoint to an alias-relative URL, giving it a fresh
// ClientSet.
func (r *EndpointRegistry) Register(url string, ep Endpoint) *ClientSet {
	url = stripLeadingSlashes(url)
	set := NewClientSet()
	r.endpoints[url] = ep
	r.sets[url] = set
	return set
}

func (r *EndpointRegistry) lookup(url string) (Endpoint, *ClientSet, bool) {
	ep, ok := r.endpoints[url]
	if !ok {
		return nil, nil, false
	}
	return ep, r.sets[url], true
}

// CloseAll tears down every connected client across every registered
// endpoint (§5 shutdown: "ask every endpoint to close its clients").
func (r *EndpointRegistry) CloseAll() {
	for _, set := range r.sets {
		set.closeAll()
	}
}

// websocketAccept derives Sec-WebSocket-Accept from the client's
// Sec-WebSocket-Key (§4.3 step 6, RFC 6455 §1.3).
func websocketAccept(clientKey string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(clientKey))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// upgradeResult is returned by attemptUpgrade.
type upgradeResult struct {
	ok     bool
	client *Client
}

// attemptUpgrade implements §4.3 step 6: if the URL names a registered
// endpoint and its OnOpening callback accepts, it writes the 101
// handshake (with permessage-deflate negotiated when the client offered
// it), spawns the receiver/sender pair, and pins the request's session
// for the connection's duration. The caller must stop its own
// request-reading loop and return once this call succeeds.
func attemptUpgrade(bw *bufio.Writer, conn net.Conn, req *Request, registry *EndpointRegistry, sessions *SessionStore, maxLatency time.Duration) upgradeResult {
	ep, set, ok := registry.lookup(req.URL)
	if !ok {
		return upgradeResult{}
	}
	if !ep.OnOpening(req) {
		return upgradeResult{}
	}

	deflate := strings.Contains(strings.ToLower(req.SecWebSocketExtensions), "permessage-deflate")

	fmt.Fprint(bw, "HTTP/1.1 101 Switching Protocols\r\n")
	fmt.Fprint(bw, "Upgrade: websocket\r\n")
	fmt.Fprint(bw, "Connection: Upgrade\r\n")
	fmt.Fprintf(bw, "Sec-WebSocket-Accept: %s\r\n", websocketAccept(req.SecWebSocketKey))
	if deflate {
		bw.WriteString("Sec-WebSocket-Extensions: permessage-deflate\r\n")
	}
	bw.WriteString("\r\n")
	if err := bw.Flush(); err != nil {
		return upgradeResult{}
	}

	if req.SessionID != "" && sessions != nil {
		sessions.Pin(req.SessionID)
	}

	client := &Client{
		id:         newCorrelationID(),
		conn:       conn,
		endpoint:   ep,
		group:      set,
		sessionID:  req.SessionID,
		sessions:   sessions,
		deflate:    deflate,
		outbound:   make(chan outboundMsg, 64),
		maxLatency: maxLatency,
		done:       make(chan struct{}),
	}
	if set != nil {
		set.add(client)
	}

	go client.runSender()
	go client.runReceiver()

	return upgradeResult{ok: true, client: client}
}
