package ca

import (
	"crypto"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holepunch/holepunch/util"
)

// KeyMaterial is the CA signing key.  PEM holds the exact bytes on disk.
type KeyMaterial struct {
	Signer crypto.Signer
	PEM    []byte
}

// Certificate is the self-signed root certificate.  PEM holds the exact
// bytes on disk.
type Certificate struct {
	X509 *x509.Certificate
	PEM  []byte
}

// Fingerprint returns the hex SHA-256 of the DER certificate.
func (c Certificate) Fingerprint() string {
	sum := sha256.Sum256(c.X509.Raw)
	return hex.EncodeToString(sum[:])
}

// A Bundle is a key and the certificate derived from it.  They are always
// produced and returned together.
type Bundle struct {
	Key  KeyMaterial
	Cert Certificate

	// GeneratedKey is set when this call produced a new key.
	GeneratedKey bool
	// GeneratedCert is set when this call produced a new certificate.
	GeneratedCert bool
}

// Generated reports whether anything was written to storage.
func (b *Bundle) Generated() bool {
	return b.GeneratedKey || b.GeneratedCert
}

// TLSCertificate converts the bundle into a crypto/tls key pair.
func (b *Bundle) TLSCertificate() (tls.Certificate, error) {
	pair, err := tls.X509KeyPair(b.Cert.PEM, b.Key.PEM)
	if err != nil {
		return tls.Certificate{}, util.Wrapf(util.KindCertificate, err, "CA bundle isn't a usable key pair")
	}
	pair.Leaf = b.Cert.X509
	return pair, nil
}

// CertPool returns a pool trusting only this CA.
func (b *Bundle) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(b.Cert.X509)
	return pool
}

func (b *Bundle) String() string {
	return fmt.Sprintf("%s (sha256:%s, expires %s)",
		displayName(b.Cert.X509.Subject), b.Cert.Fingerprint(), b.Cert.X509.NotAfter.UTC().Format("2006-01-02"))
}

func displayName(name pkix.Name) string {
	var ns []string

	if name.CommonName != "" {
		ns = append(ns, name.CommonName)
	}

	for _, val := range name.Country {
		ns = append(ns, fmt.Sprintf("C=%s", val))
	}

	for _, val := range name.Organization {
		ns = append(ns, fmt.Sprintf("O=%s", val))
	}

	if len(ns) > 0 {
		return "/" + strings.Join(ns, "/")
	}

	return ""
}
