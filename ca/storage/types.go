// Package storage persists CA trust material.
package storage

import (
	"crypto"
	"crypto/x509"
)

// PKIStorage defines the interface the CA manager uses for loading its key
// and certificate, and storing newly generated ones.
type PKIStorage interface {
	// HasKey reports whether key material is present.  Absence of the key
	// is the only condition that triggers generation of a new key.
	HasKey() bool

	// HasCertificate reports whether a certificate is present.
	HasCertificate() bool

	// LoadKey returns the stored private key and the exact bytes it was
	// decoded from.
	LoadKey() (key crypto.Signer, keyPEM []byte, err error)

	// LoadCertificate returns the stored CA certificate and the exact bytes
	// it was decoded from.
	LoadCertificate() (cert *x509.Certificate, certPEM []byte, err error)

	// Store persists new trust material.  certPEM is always written; keyPEM
	// may be nil when only the certificate was regenerated.  When both are
	// given the certificate is committed before the key.
	Store(certPEM, keyPEM []byte) error

	// Lock acquires exclusive write access to the material, across
	// processes.  The returned function releases it.
	Lock() (unlock func() error, err error)

	// GetPaths returns any paths this storage manages.
	GetPaths() []string
}
