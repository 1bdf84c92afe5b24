package webcore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T, commonName string) *x509.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestAuthorizeHandshakeSkippedWithoutMutualTLS(t *testing.T) {
	tc := &TLSContext{mutual: false}
	dn, ok := tc.AuthorizeHandshake(tls.ConnectionState{})
	assert.True(t, ok)
	assert.Empty(t, dn)
}

func TestAuthorizeHandshakeMatchesAllowedDN(t *testing.T) {
	cert := selfSignedCert(t, "client.example")
	tc := &TLSContext{mutual: true, allowedDNs: []string{cert.Subject.String()}}

	dn, ok := tc.AuthorizeHandshake(tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}})
	assert.True(t, ok)
	assert.Equal(t, cert.Subject.String(), dn)
}

func TestAuthorizeHandshakeRejectsUnlistedDN(t *testing.T) {
	cert := selfSignedCert(t, "client.example")
	tc := &TLSContext{mutual: true, allowedDNs: []string{"CN=someone-else"}}

	_, ok := tc.AuthorizeHandshake(tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}})
	assert.False(t, ok)
}

func TestAuthorizeHandshakeRequiresPeerCertificate(t *testing.T) {
	tc := &TLSContext{mutual: true, allowedDNs: []string{"CN=whoever"}}
	_, ok := tc.AuthorizeHandshake(tls.ConnectionState{})
	assert.False(t, ok)
}
