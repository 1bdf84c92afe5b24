package webcore

import (
	"bytes"
	"compress/flate"
	"io"
	"net"
	"sync"
	"time"
)

// deflateWindow bounds the preset dictionary carried between messages,
// matching DEFLATE's 32 KiB sliding window (§4.9: "dictionary state
// preserved between messages"). Each direction of a Client keeps its own
// dictionary rather than a single shared flate.Reader/Writer, which lets
// per-message (de)compression use the stdlib's preset-dictionary support
// instead of a long-lived streaming decompressor that stdlib's
// synchronous Read semantics make awkward to pause between frames.
const deflateWindow = 32 << 10

// Endpoint receives the lifecycle callbacks for a registered websocket
// URL (§4.9 Endpoint API). Embed NopEndpoint to pick up no-op defaults
// for callbacks you don't care about.
type Endpoint interface {
	OnOpening(req *Request) bool
	OnTextMessage(c *Client, text string)
	OnBinaryMessage(c *Client, data []byte)
	OnPingCtrlFrame(c *Client, payload []byte)
	OnPongCtrlFrame(c *Client, payload []byte)
	OnCloseCtrlFrame(c *Client, payload []byte)
	OnClosing(c *Client)
}

// NopEndpoint supplies no-op defaults; embed it and override only the
// callbacks a concrete endpoint cares about.
type NopEndpoint struct{}

func (NopEndpoint) OnOpening(*Request) bool             { return true }
func (NopEndpoint) OnTextMessage(*Client, string)       {}
func (NopEndpoint) OnBinaryMessage(*Client, []byte)     {}
func (NopEndpoint) OnPingCtrlFrame(*Client, []byte)     {}
func (NopEndpoint) OnPongCtrlFrame(*Client, []byte)     {}
func (NopEndpoint) OnCloseCtrlFrame(*Client, []byte)    {}
func (NopEndpoint) OnClosing(*Client)                   {}

type outboundMsg struct {
	opcode   Opcode
	payload  []byte
	enqueued time.Time
}

// Client is one upgraded websocket connection, owned by a receiver/sender
// goroutine pair spawned at upgrade time (§4.9). The endpoint's client
// set holds Clients behind a mutex so broadcast can snapshot it.
type Client struct {
	id        string
	conn      net.Conn
	endpoint  Endpoint
	group     *ClientSet
	sessionID string
	sessions  *SessionStore

	deflate  bool
	sendDict []byte
	recvDict []byte

	outbound   chan outboundMsg
	maxLatency time.Duration

	closing sync.Once
	done    chan struct{}
}

// ID returns the client's correlation id.
func (c *Client) ID() string { return c.id }

// SendText enqueues a text message for the sender goroutine (§4.9 frame
// encode: "Each outbound message is queued with an enqueue timestamp").
func (c *Client) SendText(text string) {
	c.enqueue(outboundMsg{opcode: OpcodeText, payload: []byte(text), enqueued: time.Now()})
}

// SendBinary enqueues a binary message.
func (c *Client) SendBinary(data []byte) {
	c.enqueue(outboundMsg{opcode: OpcodeBinary, payload: data, enqueued: time.Now()})
}

func (c *Client) enqueue(m outboundMsg) {
	select {
	case c.outbound <- m:
	case <-c.done:
	}
}

func (c *Client) sendClose(payload []byte) {
	select {
	case c.outbound <- outboundMsg{opcode: OpcodeClose, payload: payload, enqueued: time.Now()}:
	default:
	}
}

// teardown runs the §4.9 teardown sequence exactly once per client:
// closing flag, join of the sibling goroutines via channel close, socket
// release, session-expiration restore, and removal from the endpoint's
// client set. Removal and release are idempotent by construction (the
// sync.Once).
func (c *Client) teardown() {
	c.closing.Do(func() {
		close(c.done)
		c.conn.Close()
		if c.sessions != nil && c.sessionID != "" {
			c.sessions.Unpin(c.sessionID)
		}
		if c.group != nil {
			c.group.remove(c.id)
		}
		c.endpoint.OnClosing(c)
	})
}

// ClientSet is an Endpoint's mutex-guarded collection of connected
// Clients (§4.9, §5 "Endpoint client set (mutex)").
type ClientSet struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientSet returns an empty ClientSet.
func NewClientSet() *ClientSet {
	return &ClientSet{clients: make(map[string]*Client)}
}

func (s *ClientSet) add(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *ClientSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// snapshot returns a copy of the current client list so broadcast sends
// never hold the mutex (§4.9: "broadcast iterates a snapshot to avoid
// blocking producers during long sends").
func (s *ClientSet) snapshot() []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// closeAll tears down every currently connected client, used when the
// server shuts down (§5: "ask every endpoint to close its clients").
func (s *ClientSet) closeAll() {
	for _, c := range s.snapshot() {
		c.teardown()
	}
}

// BroadcastText sends text to every currently connected client.
func (s *ClientSet) BroadcastText(text string) {
	for _, c := range s.snapshot() {
		c.SendText(text)
	}
}

// BroadcastBinary sends data to every currently connected client.
func (s *ClientSet) BroadcastBinary(data []byte) {
	for _, c := range s.snapshot() {
		c.SendBinary(data)
	}
}

// runReceiver decodes frames from the network until a close frame,
// protocol error, or teardown (§4.9 frame decode state machine).
func (c *Client) runReceiver() {
	defer c.teardown()
	for {
		f, err := readFrame(c.conn, 0)
		if err != nil {
			return
		}
		payload := f.payload
		if f.rsv1 && c.deflate {
			plain, err := c.inflate(payload)
			if err != nil {
				return
			}
			payload = plain
		}
		switch f.opcode {
		case OpcodeText:
			c.endpoint.OnTextMessage(c, string(payload))
		case OpcodeBinary:
			c.endpoint.OnBinaryMessage(c, payload)
		case OpcodeClose:
			c.endpoint.OnCloseCtrlFrame(c, payload)
			c.sendClose(payload)
			return
		case OpcodePing:
			c.endpoint.OnPingCtrlFrame(c, payload)
			c.enqueue(outboundMsg{opcode: OpcodePong, payload: payload, enqueued: time.Now()})
		case OpcodePong:
			c.endpoint.OnPongCtrlFrame(c, payload)
		default:
			// unknown opcode: ignored; it is not logged.
		}
	}
}

// runSender drains the outbound queue in order, dropping slow-consumer
// messages past maxLatency and retrying once on a transient write
// timeout (§4.9 frame encode, §5 "single retry on EAGAIN").
func (c *Client) runSender() {
	defer c.teardown()
	for {
		select {
		case <-c.done:
			return
		case m, ok := <-c.outbound:
			if !ok {
				return
			}
			if c.maxLatency > 0 && time.Since(m.enqueued) > c.maxLatency {
				return
			}
			f := frame{fin: true, opcode: m.opcode, payload: m.payload}
			if c.deflate && (m.opcode == OpcodeText || m.opcode == OpcodeBinary) {
				compressed, err := c.deflateCompress(m.payload)
				if err == nil && len(compressed) < len(m.payload) {
					f.rsv1 = true
					f.payload = compressed
				}
			}
			if err := c.writeFrameRetry(f); err != nil {
				return
			}
			if m.opcode == OpcodeClose {
				return
			}
		}
	}
}

func (c *Client) writeFrameRetry(f frame) error {
	err := writeFrame(c.conn, f)
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		c.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
		return writeFrame(c.conn, f)
	}
	return err
}

// deflateCompress compresses data with the client's persisted send
// dictionary, then strips the trailing empty-block marker per RFC 7692
// §7.2.1 before updating the dictionary from the plaintext just sent.
func (c *Client) deflateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := flate.NewWriterDict(&buf, flate.DefaultCompression, c.sendDict)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Flush(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	out = bytes.TrimSuffix(out, []byte{0x00, 0x00, 0xff, 0xff})
	c.sendDict = growDict(c.sendDict, data)
	return out, nil
}

// inflate decompresses a permessage-deflate payload against the
// client's persisted receive dictionary, restoring the RFC 7692 empty
// block marker the sender stripped and appending a final empty stored
// block so the reader ends cleanly at the end of the message.
func (c *Client) inflate(payload []byte) ([]byte, error) {
	restored := append(append([]byte(nil), payload...), 0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff)
	zr := flate.NewReaderDict(bytes.NewReader(restored), c.recvDict)
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	c.recvDict = growDict(c.recvDict, plain)
	return plain, nil
}

func growDict(dict, add []byte) []byte {
	dict = append(dict, add...)
	if len(dict) > deflateWindow {
		dict = dict[len(dict)-deflateWindow:]
	}
	return dict
}
