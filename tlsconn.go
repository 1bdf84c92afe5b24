package webcore

import (
	"crypto/tls"
	"crypto/x509" //nolint:staticcheck // DecryptPEMBlock still needed for §4.2's password-protected PEM keys
	"encoding/pem"
	"os"
)

// maxVerifyDepth bounds the peer certificate chain walked during mutual
// TLS verification (§4.2: "verify depth is bounded (512)").
const maxVerifyDepth = 512

// TLSContext is the shared, built-once server TLS configuration (§4.2).
// It also owns the DN allow-list used to accept or reject a mutually-
// authenticated peer after a successful handshake.
type TLSContext struct {
	config     *tls.Config
	mutual     bool
	allowedDNs []string
}

// NewTLSContext builds the shared TLS context from cfg. When cfg.MutualTLS
// is set, client certificates are required and verified against
// cfg.TLSCAFile (§4.2).
func NewTLSContext(cfg *Config) (*TLSContext, error) {
	cert, err := loadCertificate(cfg)
	if err != nil {
		return nil, err
	}

	tc := &TLSContext{
		config: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		mutual:     cfg.MutualTLS,
		allowedDNs: cfg.AllowedDNs,
	}

	if cfg.MutualTLS {
		caPEM, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, wrapError(KindTLSError, "read CA file", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, newError(KindTLSError, "no certificates found in CA file")
		}
		tc.config.ClientCAs = pool
		tc.config.ClientAuth = tls.RequireAndVerifyClientCert
		tc.config.VerifyPeerCertificate = tc.verifyPeerCertificate
	}

	return tc, nil
}

func loadCertificate(cfg *Config) (tls.Certificate, error) {
	if cfg.TLSKeyPass == "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return tls.Certificate{}, wrapError(KindTLSError, "load certificate", err)
		}
		return cert, nil
	}
	return loadEncryptedKeyPair(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSKeyPass)
}

// loadEncryptedKeyPair loads a certificate whose private key PEM block
// is password-protected (§4.2's "optional key password"). No library in
// the retrieval pack wraps encrypted PEM keys, so this falls back to the
// standard library's (deprecated but still functional) PEM decryption.
func loadEncryptedKeyPair(certFile, keyFile, password string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, wrapError(KindTLSError, "read certificate file", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, wrapError(KindTLSError, "read key file", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, newError(KindTLSError, "no PEM block found in key file")
	}
	decrypted, err := x509.DecryptPEMBlock(block, []byte(password)) //nolint:staticcheck
	if err != nil {
		return tls.Certificate{}, wrapError(KindTLSError, "decrypt key file", err)
	}
	keyDER := pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: decrypted})
	cert, err := tls.X509KeyPair(certPEM, keyDER)
	if err != nil {
		return tls.Certificate{}, wrapError(KindTLSError, "load decrypted key pair", err)
	}
	return cert, nil
}

// verifyPeerCertificate rejects a peer chain longer than maxVerifyDepth.
// It runs after the standard verifier, so an over-long chain is refused
// rather than truncated.
func (tc *TLSContext) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) > maxVerifyDepth {
		return newError(KindTLSError, "peer certificate chain exceeds maximum verify depth")
	}
	return nil
}

// Config returns the shared *tls.Config to pass to tls.Server.
func (tc *TLSContext) Config() *tls.Config {
	return tc.config
}

// AuthorizeHandshake inspects a completed TLS connection state against
// the DN allow-list. It reports the matched subject DN and whether the
// connection may proceed. When mutual TLS is disabled this always
// succeeds with an empty DN (§4.2: "if mutual TLS is enabled but no DN
// matched, the worker returns 403 Forbidden and closes").
func (tc *TLSContext) AuthorizeHandshake(state tls.ConnectionState) (dn string, ok bool) {
	if !tc.mutual {
		return "", true
	}
	if len(state.PeerCertificates) == 0 {
		return "", false
	}
	subject := state.PeerCertificates[0].Subject.String()
	if len(tc.allowedDNs) == 0 {
		return subject, true
	}
	for _, allowed := range tc.allowedDNs {
		if allowed == subject {
			return subject, true
		}
	}
	return "", false
}
