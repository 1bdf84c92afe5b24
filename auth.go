package webcore

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// basicCacheWindow is how long a previously-verified Basic auth blob
// short-circuits the bcrypt/constant-time comparison (§4.10).
const basicCacheWindow = 10 * time.Minute

// basicUser is one parsed "user:password" or "user:$2a$..." config line.
type basicUser struct {
	name       string
	bcryptHash []byte // non-nil when the configured password is a bcrypt hash
	plaintext  string // used when the configured password is not a hash
}

// Authenticator evaluates Basic and Bearer credentials against the
// configured users and BearerCallbacks (§4.10). It owns the per-user and
// per-token verification caches that let repeat requests skip the
// expensive comparison.
type Authenticator struct {
	basicUsers []basicUser

	basicMu    sync.Mutex
	basicSeen  map[string]time.Time // base64 blob -> last-verified instant

	bearer   BearerCallbacks
	bearerOn bool
	realm    string

	tokenMu  sync.Mutex
	tokenExp map[string]bearerCacheEntry // raw token -> decoded token and expiration
}

// bearerCacheEntry is a verified Bearer token held for the fast path.
type bearerCacheEntry struct {
	decoded string
	exp     time.Time
}

// NewAuthenticator builds an Authenticator from a Config (§4.10, §6).
func NewAuthenticator(cfg *Config) (*Authenticator, error) {
	a := &Authenticator{
		basicSeen: make(map[string]time.Time),
		bearer:    cfg.BearerCallbacks,
		bearerOn:  cfg.BearerAuthEnabled,
		realm:     cfg.BearerRealm,
		tokenExp:  make(map[string]bearerCacheEntry),
	}
	for _, line := range cfg.BasicAuthUsers {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, newError(KindInternalError, "malformed basic_auth_users entry: "+line)
		}
		u := basicUser{name: line[:colon]}
		secret := line[colon+1:]
		if strings.HasPrefix(secret, "$2a$") || strings.HasPrefix(secret, "$2b$") || strings.HasPrefix(secret, "$2y$") {
			u.bcryptHash = []byte(secret)
		} else {
			u.plaintext = secret
		}
		a.basicUsers = append(a.basicUsers, u)
	}
	return a, nil
}

// CheckBasic verifies a "Basic <blob>" Authorization header value. On
// success it returns the authenticated username. On failure it returns
// a *Error with Kind KindAuthRequired, ready to be turned into a
// WWW-Authenticate challenge by the response writer.
func (a *Authenticator) CheckBasic(header string) (string, error) {
	blob, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		return "", newError(KindAuthRequired, "missing Basic scheme")
	}

	a.basicMu.Lock()
	seenAt, cached := a.basicSeen[blob]
	a.basicMu.Unlock()
	if cached && time.Since(seenAt) < basicCacheWindow {
		if user := a.basicUserForBlob(blob); user != "" {
			return user, nil
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", newError(KindAuthRequired, "malformed Basic blob")
	}
	colon := strings.IndexByte(string(decoded), ':')
	if colon < 0 {
		return "", newError(KindAuthRequired, "malformed Basic credentials")
	}
	name, password := string(decoded[:colon]), string(decoded[colon+1:])

	for _, u := range a.basicUsers {
		if u.name != name {
			continue
		}
		if !verifyBasicPassword(u, password) {
			return "", newError(KindAuthRequired, "bad credentials")
		}
		a.basicMu.Lock()
		a.basicSeen[blob] = time.Now()
		a.basicMu.Unlock()
		return name, nil
	}
	return "", newError(KindAuthRequired, "unknown user")
}

// basicUserForBlob decodes a previously-verified blob without touching
// bcrypt again, used on the cache fast path.
func (a *Authenticator) basicUserForBlob(blob string) string {
	decoded, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return ""
	}
	colon := strings.IndexByte(string(decoded), ':')
	if colon < 0 {
		return ""
	}
	return string(decoded[:colon])
}

func verifyBasicPassword(u basicUser, password string) bool {
	if u.bcryptHash != nil {
		return bcrypt.CompareHashAndPassword(u.bcryptHash, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.plaintext), []byte(password)) == 1
}

// BearerFailure carries the structured WWW-Authenticate detail for a
// failed Bearer check (§4.10).
type BearerFailure struct {
	Error       string // "invalid_token" or "insufficient_scope"
	Description string
}

// CheckBearer verifies a "Bearer <token>" Authorization header value
// against a resource URL. On success it returns the decoded token. On
// failure it returns the structured failure detail for the challenge.
func (a *Authenticator) CheckBearer(header, resourceURL string) (string, *BearerFailure) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", &BearerFailure{Error: "invalid_token", Description: "missing Bearer scheme"}
	}

	a.tokenMu.Lock()
	entry, cached := a.tokenExp[token]
	a.tokenMu.Unlock()
	if cached {
		if time.Now().Before(entry.exp) {
			if a.bearer.Scope != nil && !a.bearer.Scope(entry.decoded, resourceURL) {
				return "", &BearerFailure{Error: "insufficient_scope", Description: TokenReasonInsufficientScope.String()}
			}
			return entry.decoded, nil
		}
		a.tokenMu.Lock()
		delete(a.tokenExp, token)
		a.tokenMu.Unlock()
	}

	decoded, ok := a.bearer.DecodeVerify(token)
	if !ok {
		return "", &BearerFailure{Error: "invalid_token", Description: TokenReasonBadSignature.String()}
	}
	exp, ok := a.bearer.Expiration(decoded)
	if !ok {
		return "", &BearerFailure{Error: "invalid_token", Description: TokenReasonMissingExpiration.String()}
	}
	if !time.Now().Before(exp) {
		return "", &BearerFailure{Error: "invalid_token", Description: TokenReasonExpired.String()}
	}
	if a.bearer.Scope != nil && !a.bearer.Scope(decoded, resourceURL) {
		return "", &BearerFailure{Error: "insufficient_scope", Description: TokenReasonInsufficientScope.String()}
	}

	a.tokenMu.Lock()
	a.tokenExp[token] = bearerCacheEntry{decoded: decoded, exp: exp}
	a.tokenMu.Unlock()
	return decoded, nil
}

// Challenge builds the WWW-Authenticate header value for a 401 response
// (§4.8 step 4). basicWanted selects the plain Basic realm text; a
// non-nil bf renders the structured Bearer challenge instead.
func (a *Authenticator) Challenge(basicWanted bool, bf *BearerFailure) string {
	if bf != nil {
		var b strings.Builder
		b.WriteString(`Bearer realm="`)
		b.WriteString(a.realm)
		b.WriteString(`"`)
		if bf.Error != "" {
			b.WriteString(`, error="`)
			b.WriteString(bf.Error)
			b.WriteString(`"`)
		}
		if bf.Description != "" {
			b.WriteString(`, error_description="`)
			b.WriteString(bf.Description)
			b.WriteString(`"`)
		}
		return b.String()
	}
	return `Basic realm="Restricted area: please enter Login/Password"`
}
