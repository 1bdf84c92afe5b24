package webcore

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"time"
)

// bodyChunkSize bounds each read of a declared-length body (§4.3 step 5:
// "streamed into the multipart parser in 32-KiB chunks").
const bodyChunkSize = 32 << 10

// deadlineSlop is the minimum movement before a read/write deadline is
// re-applied to the socket, avoiding a syscall on every chunk (§3
// "Per-connection read/write deadline coalescing", grounded on the
// teacher's server1Stream.setReadDeadline/setWriteDeadline).
const deadlineSlop = time.Second

// Conn runs the keep-alive loop for one accepted connection (§4.3),
// mirroring the teacher's server1Conn.serve in shape: a persistent loop
// over requests, ending in the half-close-before-close teardown RFC 7230
// §6.6 describes.
type Conn struct {
	netConn net.Conn
	peer    PeerAddr
	dn      string // subject DN, set only after a successful mutual-TLS handshake

	cfg        *Config
	logger     Logger
	dispatcher *Dispatcher
	auth       *Authenticator
	sessions   *SessionStore
	registry   *EndpointRegistry

	lastRead  time.Time
	lastWrite time.Time
}

// newConn wraps an already-accepted, already-tuned net.Conn.
func newConn(netConn net.Conn, peer PeerAddr, dn string, srv *Server) *Conn {
	return &Conn{
		netConn:    netConn,
		peer:       peer,
		dn:         dn,
		cfg:        srv.cfg,
		logger:     srv.logger,
		dispatcher: srv.dispatcher,
		auth:       srv.auth,
		sessions:   srv.sessions,
		registry:   srv.registry,
	}
}

func (c *Conn) setReadDeadline(d time.Time) {
	if d.Sub(c.lastRead) >= deadlineSlop || d.Before(c.lastRead) {
		c.netConn.SetReadDeadline(d)
		c.lastRead = d
	}
}

func (c *Conn) setWriteDeadline(d time.Time) {
	if d.Sub(c.lastWrite) >= deadlineSlop || d.Before(c.lastWrite) {
		c.netConn.SetWriteDeadline(d)
		c.lastWrite = d
	}
}

func (c *Conn) socketTimeout() time.Duration {
	if c.cfg.SocketTimeout > 0 {
		return c.cfg.SocketTimeout
	}
	return 3 * time.Second
}

// serve runs the full keep-alive lifecycle. It returns once the
// connection closes or is handed off to a websocket client pair.
func (c *Conn) serve() {
	closeSafe := c.teardown
	defer func() { closeSafe() }()

	br := bufio.NewReader(c.netConn)
	bw := bufio.NewWriter(c.netConn)

	req := newRequest()
	keepAliveCount := 0
	maxKeepAlive := c.cfg.MaxKeepAliveRequests
	if maxKeepAlive <= 0 {
		maxKeepAlive = 25
	}

	for {
		req.reset()
		c.setReadDeadline(time.Now().Add(c.socketTimeout()))

		upgraded, shouldClose := c.handleOneRequest(br, bw, req)
		if upgraded {
			// Ownership of the connection has transferred to the
			// websocket client goroutines; don't half-close underneath them.
			closeSafe = func() {}
			return
		}
		if shouldClose {
			return
		}

		keepAliveCount++
		if keepAliveCount >= maxKeepAlive {
			return
		}
	}
}

// handleOneRequest runs one iteration of the §4.3 loop. It returns
// (upgraded, shouldClose).
func (c *Conn) handleOneRequest(br *bufio.Reader, bw *bufio.Writer, req *Request) (bool, bool) {
	line, err := readLine(br)
	if err != nil {
		return false, true
	}
	if line == "" {
		// Tolerate a leading blank line (some clients send one after
		// a prior chunked body); re-read the real request line once.
		line, err = readLine(br)
		if err != nil {
			return false, true
		}
	}

	rl, err := parseRequestLine(line)
	if err != nil {
		c.writeFailure(bw, req, err)
		return false, true
	}
	req.Method = rl.Method

	st := &headerParseState{}
	expectContinue := false
	for {
		hline, err := readLine(br)
		if err != nil {
			return false, true
		}
		if hline == "" {
			break
		}
		if strings.EqualFold(hline, "Expect: 100-continue") {
			expectContinue = true
			continue
		}
		if err := applyHeaderLine(req, st, hline); err != nil {
			c.writeFailure(bw, req, err)
			return false, true
		}
	}
	if req.KeepAlive == nil && rl.HTTPVersion == "HTTP/1.0" {
		// HTTP/1.0 closes by default unless the client sent keep-alive.
		no := false
		req.KeepAlive = &no
	}

	finalizeURL(req, rl.RawURL)
	if cookie := req.Cookie("SID"); cookie != "" {
		req.SessionID = cookie
	}

	if authErr := c.checkAuth(req); authErr != nil {
		// The request body (if any) was never drained, so the
		// connection can't safely be reused for a pipelined request.
		c.writeFailure(bw, req, authErr)
		return false, true
	}

	if expectContinue && req.ContentLength > 0 {
		bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n")
		bw.Flush()
	}

	if req.ContentLength > 0 {
		if err := c.readBody(br, req); err != nil {
			c.writeFailure(bw, req, err)
			return false, true
		}
	}

	if req.WantsUpgrade {
		res := attemptUpgrade(bw, c.netConn, req, c.registry, c.sessions, c.cfg.websocketMaxLatency())
		if res.ok {
			return true, false
		}
		resp := NewResponse()
		resp.SetStatus(404)
		resp.ContentType = "text/html"
		resp.Content = errorBody(404, "no matching websocket endpoint")
		c.setWriteDeadline(time.Now().Add(c.socketTimeout()))
		writeResponse(bw, req, resp, c.cfg.ServerIdentity, c.keepAliveRequested(req), "")
		return false, !c.keepAliveRequested(req)
	}

	resp, release := c.dispatcher.Dispatch(req)
	defer release()

	c.setWriteDeadline(time.Now().Add(c.socketTimeout()))
	keepAlive := c.keepAliveRequested(req)
	if err := writeResponse(bw, req, resp, c.cfg.ServerIdentity, keepAlive, ""); err != nil {
		return false, true
	}
	return false, !keepAlive
}

// keepAliveRequested applies §4.3 step 3's default: on HTTP/1.1+,
// keep-alive is on unless Connection: close was seen.
func (c *Conn) keepAliveRequested(req *Request) bool {
	if req.KeepAlive != nil {
		return *req.KeepAlive
	}
	return true
}

func (c *Conn) checkAuth(req *Request) error {
	if req.AuthorizationHeader == "" {
		return nil
	}
	if strings.HasPrefix(req.AuthorizationHeader, "Basic ") {
		if len(c.cfg.BasicAuthUsers) == 0 {
			return nil
		}
		user, err := c.auth.CheckBasic(req.AuthorizationHeader)
		if err != nil {
			return err
		}
		req.AuthUser = user
		return nil
	}
	if strings.HasPrefix(req.AuthorizationHeader, "Bearer ") {
		if !c.cfg.BearerAuthEnabled {
			return nil
		}
		decoded, failure := c.auth.CheckBearer(req.AuthorizationHeader, req.URL)
		if failure != nil {
			reason := TokenReasonBadSignature
			if failure.Error == "insufficient_scope" {
				reason = TokenReasonInsufficientScope
			}
			return &Error{Kind: KindAuthTokenInvalid, TokenReason: reason, Message: failure.Description}
		}
		req.AuthUser = decoded
		return nil
	}
	return nil
}

// readBody reads the declared-length body either as a raw payload, into
// the urlencoded-form parameter map, or streamed into a multipart parser,
// in bodyChunkSize chunks (§4.3 step 5).
func (c *Conn) readBody(br *bufio.Reader, req *Request) error {
	remaining := req.ContentLength
	var raw []byte
	var mp *MultipartParser
	var err error

	if req.IsMultipartForm {
		mp, err = NewMultipartParser(req.ContentType, c.cfg.MultipartTempDir, c.cfg.MultipartMaxBuffer)
		if err != nil {
			return err
		}
		req.Multipart = mp
	}

	buf := make([]byte, bodyChunkSize)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(br, buf[:n])
		if err != nil {
			if mp != nil {
				mp.Close()
			}
			return wrapError(KindIOError, "read request body", err)
		}
		remaining -= int64(read)

		switch {
		case mp != nil:
			if err := mp.Write(buf[:read]); err != nil {
				return err
			}
		case req.IsURLEncodedForm:
			raw = append(raw, buf[:read]...)
		default:
			raw = append(raw, buf[:read]...)
		}
	}

	if req.IsURLEncodedForm {
		parseParams(req, string(raw))
	} else if mp == nil {
		req.Payload = raw
	}
	return nil
}

func (c *Conn) writeFailure(bw *bufio.Writer, req *Request, err error) {
	status := 400
	challenge := ""
	if e, ok := err.(*Error); ok {
		status = kindToStatus(e.Kind)
		if status == 401 {
			var bf *BearerFailure
			if strings.HasPrefix(req.AuthorizationHeader, "Bearer ") {
				errName := "invalid_token"
				if e.TokenReason == TokenReasonInsufficientScope {
					errName = "insufficient_scope"
				}
				bf = &BearerFailure{Error: errName, Description: e.Message}
			}
			challenge = c.auth.Challenge(bf == nil, bf)
		}
	}
	resp := NewResponse()
	resp.SetStatus(status)
	resp.ContentType = "text/html"
	resp.Content = errorBody(status, "")
	c.setWriteDeadline(time.Now().Add(c.socketTimeout()))
	writeResponse(bw, req, resp, c.cfg.ServerIdentity, false, challenge)
}

// teardown performs the half-close-before-close sequence RFC 7230 §6.6
// recommends, quoted (abridged) in the teacher's server1Conn.serve:
//
// "To avoid the TCP reset problem, servers typically close a connection
// in stages. First, the server performs a half-close by closing only the
// write side... Finally, the server fully closes the connection."
func (c *Conn) teardown() {
	if tlsConn, ok := c.netConn.(*tls.Conn); ok {
		tlsConn.CloseWrite()
	} else if tcpConn, ok := c.netConn.(*net.TCPConn); ok {
		tcpConn.CloseWrite()
	}
	time.Sleep(time.Second)
	c.netConn.Close()
}
