package webcore

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

const sessionIDLength = 128

var sessionIDAlphabet = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// sessionAttrKind tags how a stored attribute must be released,
// replacing libnavajo's untyped void*/BASIC-OBJECT union (§3, §9).
type sessionAttrKind uint8

const (
	attrKindRaw sessionAttrKind = iota
	attrKindObject
)

// Releasable is implemented by session attributes that own a resource
// that must be released when the attribute is removed or the session
// expires (the "owned-object-with-destructor" case in §3).
type Releasable interface {
	Release()
}

type sessionAttr struct {
	kind sessionAttrKind
	raw  any // arbitrary value for attrKindRaw; no explicit free beyond GC
	obj  Releasable
}

func (a sessionAttr) release() {
	if a.kind == attrKindObject && a.obj != nil {
		a.obj.Release()
	}
}

const sessionExpirationAttr = "session_expiration"

// SessionStore is the process-wide (but instance-owned, per §9's "model
// as a server-owned store") keyed store of typed per-session attributes
// with sliding expiration (§4.6, §3).
//
// Session ids are 128-character alphanumeric strings. The reference
// implementation reseeds its RNG with the current second on every
// create, which is a documented intentional defect (§4.6 Open
// question); this store instead seeds crypto/rand once and draws all
// subsequent ids from it.
type SessionStore struct {
	mu    sync.Mutex
	byID  map[string]map[string]sessionAttr
	life  time.Duration
	lastSweep time.Time
}

// NewSessionStore creates a store with the given default sliding
// lifetime (§4.6 default is 20 minutes).
func NewSessionStore(lifeTime time.Duration) *SessionStore {
	return &SessionStore{
		byID: make(map[string]map[string]sessionAttr),
		life: lifeTime,
	}
}

func generateSessionID() (string, error) {
	buf := make([]byte, sessionIDLength)
	max := big.NewInt(int64(len(sessionIDAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = sessionIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Create allocates a new session with a fresh id, installs the
// session_expiration sentinel attribute, and opportunistically sweeps
// expired sessions (at most once every 60 seconds, per §4.6).
func (s *SessionStore) Create() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		candidate, err := generateSessionID()
		if err != nil {
			return "", wrapError(KindInternalError, "generate session id", err)
		}
		if _, exists := s.byID[candidate]; !exists {
			id = candidate
			break
		}
	}

	attrs := make(map[string]sessionAttr)
	attrs[sessionExpirationAttr] = sessionAttr{kind: attrKindRaw, raw: time.Now().Add(s.life)}
	s.byID[id] = attrs

	s.sweepLocked(true)
	return id, nil
}

// TouchIfExists refreshes the sliding expiration of id if it exists,
// returning whether it was found (§4.6 "touch-if-exists").
func (s *SessionStore) TouchIfExists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, ok := s.byID[id]
	if !ok {
		return false
	}
	s.touchLocked(attrs)
	return true
}

func (s *SessionStore) touchLocked(attrs map[string]sessionAttr) {
	exp := attrs[sessionExpirationAttr]
	if exp.kind == attrKindRaw {
		if t, ok := exp.raw.(time.Time); ok && !t.IsZero() {
			attrs[sessionExpirationAttr] = sessionAttr{kind: attrKindRaw, raw: time.Now().Add(s.life)}
		}
	}
}

// Pin sets the session's expiration to "never" (noExpiration in
// libnavajo), used by websocket clients for the duration of the
// connection (§4.6, §4.9).
func (s *SessionStore) Pin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attrs, ok := s.byID[id]; ok {
		attrs[sessionExpirationAttr] = sessionAttr{kind: attrKindRaw, raw: time.Time{}}
	}
}

// Unpin restores the sliding expiration after a pinned (websocket)
// session's connection has ended (§4.9 teardown: "restore of the
// session expiration").
func (s *SessionStore) Unpin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attrs, ok := s.byID[id]; ok {
		attrs[sessionExpirationAttr] = sessionAttr{kind: attrKindRaw, raw: time.Now().Add(s.life)}
	}
}

// Remove drops the session, releasing any owned-object attributes.
func (s *SessionStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *SessionStore) removeLocked(id string) {
	attrs, ok := s.byID[id]
	if !ok {
		return
	}
	for name, attr := range attrs {
		if name == sessionExpirationAttr {
			continue
		}
		attr.release()
	}
	delete(s.byID, id)
}

// SetAttribute stores a plain value under name, tagged for GC-only
// cleanup (the "raw" case; no explicit free beyond normal GC, since Go
// has no malloc/free distinction to mirror — see DESIGN.md).
func (s *SessionStore) SetAttribute(id, name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attrs, ok := s.byID[id]; ok {
		attrs[name] = sessionAttr{kind: attrKindRaw, raw: value}
	}
}

// SetObjectAttribute stores a value whose Release method is invoked on
// removal or expiry (§3 invariant 2, the "owned-object-with-destructor"
// case).
func (s *SessionStore) SetObjectAttribute(id, name string, value Releasable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attrs, ok := s.byID[id]; ok {
		attrs[name] = sessionAttr{kind: attrKindObject, obj: value}
	}
}

// GetAttribute returns the raw value stored under name, if any.
func (s *SessionStore) GetAttribute(id, name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	attr, ok := attrs[name]
	if !ok || attr.kind != attrKindRaw {
		return nil, false
	}
	return attr.raw, true
}

// GetObjectAttribute returns the Releasable stored under name, if any.
func (s *SessionStore) GetObjectAttribute(id, name string) (Releasable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	attr, ok := attrs[name]
	if !ok || attr.kind != attrKindObject {
		return nil, false
	}
	return attr.obj, true
}

// RemoveAttribute removes a single attribute, releasing it if owned.
func (s *SessionStore) RemoveAttribute(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.byID[id]
	if !ok {
		return
	}
	if attr, ok := attrs[name]; ok {
		attr.release()
		delete(attrs, name)
	}
}

// Exists reports whether id is present, without touching its
// expiration (§3 invariant 1).
func (s *SessionStore) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

// Sweep walks all sessions, removing any whose expiration is set,
// non-zero, and not in the future (§4.6 "sweep"). Unlike the opportunistic
// sweep triggered by Create, an explicit Sweep call always runs.
func (s *SessionStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(false)
}

// sweepLocked performs the sweep. When throttled is true (the
// opportunistic path from Create), it skips the pass if the last sweep
// ran under 60 seconds ago (§4.6).
func (s *SessionStore) sweepLocked(throttled bool) {
	now := time.Now()
	if throttled && !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < 60*time.Second {
		return
	}
	s.lastSweep = now
	for id, attrs := range s.byID {
		exp, ok := attrs[sessionExpirationAttr]
		if !ok || exp.kind != attrKindRaw {
			continue
		}
		t, ok := exp.raw.(time.Time)
		if !ok || t.IsZero() {
			continue // noExpiration: pinned, never swept
		}
		if t.After(now) {
			continue
		}
		s.removeLocked(id)
	}
}
