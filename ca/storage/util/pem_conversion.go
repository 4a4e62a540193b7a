// Package util holds the PEM codec for CA trust material and the on-disk
// file handling used by the storage backends.
package util

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/cloudflare/cfssl/helpers"
	"github.com/holepunch/holepunch/util"
)

// EncodeKeyToPem marshalls a private key into PEM format.
func EncodeKeyToPem(key crypto.Signer) ([]byte, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		data, err := x509.MarshalECPrivateKey(k)
		if err != nil {
			return nil, util.Wrap(util.KindCertificate, err)
		}
		return pem.EncodeToMemory(
			&pem.Block{
				Type:  "EC PRIVATE KEY",
				Bytes: data,
			},
		), nil
	case *rsa.PrivateKey:
		return pem.EncodeToMemory(
			&pem.Block{
				Type:  "RSA PRIVATE KEY",
				Bytes: x509.MarshalPKCS1PrivateKey(k),
			},
		), nil
	case ed25519.PrivateKey:
		data, err := x509.MarshalPKCS8PrivateKey(k)
		if err != nil {
			return nil, util.Wrap(util.KindCertificate, err)
		}
		return pem.EncodeToMemory(
			&pem.Block{
				Type:  "PRIVATE KEY",
				Bytes: data,
			},
		), nil
	}
	return nil, util.Errorf(util.KindCertificate, "private key is neither ecdsa, rsa nor ed25519 thus cannot be encoded")
}

// DecodeKeyFromPem parses a PEM encoded private key.
func DecodeKeyFromPem(data []byte) (crypto.Signer, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, util.Errorf(util.KindCertificate, "private key PEM is empty")
	}
	key, err := helpers.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, util.Wrapf(util.KindCertificate, err, "failed parsing private key")
	}
	return key, nil
}

// EncodeCertificateToPEM serialize a certificate into pem format
func EncodeCertificateToPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(
		&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: cert.Raw,
		},
	)
}

// DecodeCertificateFromPEM parses a PEM encoded certificate and requires it
// to be a self-signed CA certificate.
func DecodeCertificateFromPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, util.Errorf(util.KindCertificate, "unable to pem decode certificate")
	}
	if block.Type != "CERTIFICATE" {
		return nil, util.Errorf(util.KindCertificate, "unexpected PEM block type %q, wanted CERTIFICATE", block.Type)
	}
	cert, err := helpers.ParseCertificatePEM(data)
	if err != nil {
		return nil, util.Wrapf(util.KindCertificate, err, "failed parsing certificate")
	}
	if err := CheckSelfSignedCA(cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// CheckSelfSignedCA verifies cert declares itself a CA and is signed by its
// own key.
func CheckSelfSignedCA(cert *x509.Certificate) error {
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return util.Errorf(util.KindCertificate, "certificate %s is not a CA certificate", cert.Subject)
	}
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return util.Errorf(util.KindCertificate, "certificate %s is issued by %s, not self-signed", cert.Subject, cert.Issuer)
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return util.Wrapf(util.KindCertificate, err, "certificate %s self-signature is invalid", cert.Subject)
	}
	return nil
}

type publicKeyEqualer interface {
	Equal(crypto.PublicKey) bool
}

// PublicKeysMatch reports whether cert certifies the public half of key.
func PublicKeysMatch(key crypto.Signer, cert *x509.Certificate) bool {
	pub, ok := key.Public().(publicKeyEqualer)
	if !ok {
		return false
	}
	return pub.Equal(cert.PublicKey)
}

// CheckKeyPair returns an error if cert wasn't issued for key.
func CheckKeyPair(key crypto.Signer, cert *x509.Certificate) error {
	if !PublicKeysMatch(key, cert) {
		return util.Errorf(util.KindCertificate, "certificate %s does not match the private key", cert.Subject)
	}
	return nil
}
