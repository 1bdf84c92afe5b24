package webcore

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"
)

// Server wires the socket layer (A), TLS layer (B), connection worker
// (C), session store (F), repository dispatcher (G), and websocket
// endpoint registry (I) into one embeddable HTTP/1.1 + WebSocket server,
// generalizing the teacher's httpxServer (gate ownership, IncSub/DecSub/
// WaitSubs-style shutdown draining) to this spec's component list.
type Server struct {
	cfg    *Config
	logger Logger

	tlsCtx     *TLSContext
	gate       *Gate
	pool       *workerPool
	dispatcher *Dispatcher
	auth       *Authenticator
	sessions   *SessionStore
	registry   *EndpointRegistry

	shutdownOnce sync.Once
	sweepStop    chan struct{}
	sweepDone    chan struct{}
}

// Options configures a Server at construction time.
type Options struct {
	Config *Config
	Logger Logger
}

// NewServer builds a Server from opts. The caller registers repositories
// and websocket endpoints on the returned Server before calling Serve.
func NewServer(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}

	auth, err := NewAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:        cfg,
		logger:     logger,
		dispatcher: NewDispatcher(cfg.MaxForwards),
		auth:       auth,
		sessions:   NewSessionStore(cfg.SessionLifeTime),
		registry:   NewEndpointRegistry(),
		sweepStop:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}

	if cfg.TLSEnabled {
		tlsCtx, err := NewTLSContext(cfg)
		if err != nil {
			return nil, err
		}
		srv.tlsCtx = tlsCtx
	}

	gate, err := NewGate(cfg, logger, srv.onAccept)
	if err != nil {
		return nil, err
	}
	srv.gate = gate

	return srv, nil
}

// Register adds a repository to the dispatch chain, in registration
// order (§4.7).
func (s *Server) Register(r Repository) {
	s.dispatcher.Register(r)
}

// RegisterEndpoint binds a websocket Endpoint to an alias-relative URL
// and returns its ClientSet for broadcast use (§4.9).
func (s *Server) RegisterEndpoint(url string, ep Endpoint) *ClientSet {
	return s.registry.Register(url, ep)
}

// Sessions exposes the server's session store to the embedder (e.g. for
// a login handler that calls Create).
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Serve opens the listeners and blocks, dispatching accepted connections
// to the worker pool, until Shutdown is called.
func (s *Server) Serve() error {
	if err := s.gate.Open(); err != nil {
		return err
	}
	s.pool = newWorkerPool(s.cfg.ThreadPoolSize, s.handleConn)
	go s.runSweeper()
	s.gate.Serve()
	return nil
}

func (s *Server) onAccept(conn net.Conn, peer PeerAddr) {
	s.pool.Submit(conn)
}

// handleConn performs the optional TLS handshake (and mutual-TLS DN
// check) before running the connection worker (§4.2, §4.3).
func (s *Server) handleConn(netConn net.Conn) {
	peer := peerAddrOf(netConn)
	dn := ""

	if s.tlsCtx != nil {
		tlsConn := tls.Server(netConn, s.tlsCtx.Config())
		tlsConn.SetDeadline(time.Now().Add(10 * time.Second))
		if err := tlsConn.Handshake(); err != nil {
			tlsConn.Close()
			return
		}
		matched, ok := s.tlsCtx.AuthorizeHandshake(tlsConn.ConnectionState())
		if !ok {
			// §4.2: mutual TLS succeeded but no DN matched the allow-list.
			tlsConn.Write([]byte("HTTP/1.1 403 Forbidden\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
			tlsConn.Close()
			return
		}
		dn = matched
		netConn = tlsConn
	}

	c := newConn(netConn, peer, dn, s)
	c.serve()
}

// runSweeper periodically sweeps the session store (§4.6's sweep
// operation, run on a timer rather than only opportunistically from
// Create).
func (s *Server) runSweeper() {
	defer close(s.sweepDone)
	interval := s.cfg.SessionSweepEvery
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.sessions.Sweep()
		}
	}
}

// Shutdown sets the shared exiting flag (closing the listeners and
// stopping the sweeper), drains in-flight connections, and asks every
// websocket endpoint's clients to close (§5 Cancellation/timeouts).
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.sweepStop)
		s.gate.Shutdown()
		s.registry.CloseAll()
		if s.pool != nil {
			s.pool.Close()
		}
		s.logger.Close()
	})
	select {
	case <-s.sweepDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
