package webcore

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// acceptPollTick bounds how long an Accept call blocks before the gate
// re-checks its shut flag, so shutdown is observed promptly (§4.1: "a
// poll loop with a 500 ms tick so the server can observe a shutdown
// request quickly").
const acceptPollTick = 500 * time.Millisecond

// PeerAddr is the tagged IPv4/IPv6 peer address extracted from an
// accepted connection (§4.1's "tagged ip-v4|v6 union").
type PeerAddr struct {
	IP   net.IP
	IsV6 bool
	Port int
}

func peerAddrOf(conn net.Conn) PeerAddr {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return PeerAddr{}
	}
	return PeerAddr{IP: addr.IP, IsV6: addr.IP.To4() == nil, Port: addr.Port}
}

// Gate owns one IPv4 and/or one IPv6 listener on the same port, the host
// allow-list check at accept time, and the accept-loop lifecycle,
// mirroring the teacher's httpxGate (Open/serveTCP/Shut) generalized to
// bind both address families per §4.1.
type Gate struct {
	cfg    *Config
	logger Logger
	onConn func(net.Conn, PeerAddr)

	allowNets []*net.IPNet

	listeners []net.Listener
	shut      atomic.Bool
	wg        sync.WaitGroup
}

// NewGate builds a Gate from cfg. onConn is invoked for every accepted
// connection that passes the host allow-list, after socket timeouts and
// TCP_NODELAY have been applied.
func NewGate(cfg *Config, logger Logger, onConn func(net.Conn, PeerAddr)) (*Gate, error) {
	g := &Gate{cfg: cfg, logger: logger, onConn: onConn}
	for _, cidr := range cfg.HostAllowList {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, wrapError(KindInternalError, "parse host_allow_list entry "+cidr, err)
		}
		g.allowNets = append(g.allowNets, network)
	}
	return g, nil
}

// Open binds the configured listeners (§4.1: IPv4 unless disabled, IPv6
// set v6-only unless disabled, SO_REUSEADDR on each).
func (g *Gate) Open() error {
	if !g.cfg.DisableIPv4 {
		ln, err := g.listen("tcp4")
		if err != nil {
			return err
		}
		g.listeners = append(g.listeners, ln)
	}
	if !g.cfg.DisableIPv6 {
		ln, err := g.listen("tcp6")
		if err != nil {
			g.closeAll()
			return err
		}
		g.listeners = append(g.listeners, ln)
	}
	if len(g.listeners) == 0 {
		return newError(KindInternalError, "both IPv4 and IPv6 are disabled")
	}
	return nil
}

func (g *Gate) listen(network string) (net.Listener, error) {
	addr := ":" + strconv.Itoa(g.cfg.Port)
	lc := net.ListenConfig{
		Control: func(_, _ string, rawConn syscall.RawConn) error {
			if err := setReuseAddr(rawConn); err != nil {
				return err
			}
			if network == "tcp6" {
				return setV6Only(rawConn)
			}
			return nil
		},
	}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, wrapError(KindIOError, "listen "+network, err)
	}
	return ln, nil
}

func (g *Gate) closeAll() {
	for _, ln := range g.listeners {
		ln.Close()
	}
}

// Serve runs one accept loop per listener, handing accepted connections
// to onConn after applying the socket timeout, TCP_NODELAY and the host
// allow-list (§4.1). It returns once every listener's loop has exited.
func (g *Gate) Serve() {
	for _, ln := range g.listeners {
		g.wg.Add(1)
		go g.acceptLoop(ln)
	}
	g.wg.Wait()
}

func (g *Gate) acceptLoop(ln net.Listener) {
	defer g.wg.Done()
	tcpLn, _ := ln.(*net.TCPListener)
	for {
		if tcpLn != nil {
			tcpLn.SetDeadline(time.Now().Add(acceptPollTick))
		}
		conn, err := ln.Accept()
		if err != nil {
			if g.shut.Load() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		peer := peerAddrOf(conn)
		if !g.allowed(peer) {
			conn.Close()
			continue
		}
		g.tune(conn)
		g.onConn(conn, peer)
	}
}

func (g *Gate) allowed(peer PeerAddr) bool {
	if len(g.allowNets) == 0 {
		return true
	}
	for _, n := range g.allowNets {
		if n.Contains(peer.IP) {
			return true
		}
	}
	return false
}

func (g *Gate) tune(conn net.Conn) {
	timeout := g.cfg.SocketTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn.SetDeadline(time.Now().Add(timeout))
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		if rawConn, err := tcpConn.SyscallConn(); err == nil {
			setSocketTimeout(rawConn, timeout)
		}
	}
}

// Shutdown marks the gate shut and closes its listeners, which unblocks
// every accept loop, then waits for them to exit (§5 shutdown: "closes
// all listener sockets").
func (g *Gate) Shutdown() {
	g.shut.Store(true)
	g.closeAll()
	g.wg.Wait()
}
