// Package ca bootstraps and loads the self-signed root CA that holepunch
// peers trust.
package ca

import (
	"time"

	"github.com/cloudflare/cfssl/csr"
	"github.com/holepunch/holepunch/util"
)

// AppName is the application identifier used for the CA subject and the
// configuration directory.
const AppName = "holepunch"

// DefaultValidity is how long a generated root certificate is valid: five
// years.
const DefaultValidity = 1825 * 24 * time.Hour

// Options controls how trust material is generated.  Loading never consults
// it.
type Options struct {
	// CommonName is the subject CN of the root certificate.
	CommonName string

	// Country is the subject C attribute.
	Country string

	// Organization is the subject O attribute.
	Organization string

	// Validity is the lifetime of a generated certificate.
	Validity time.Duration

	// KeyAlgo is either "ecdsa" or "rsa".
	KeyAlgo string

	// KeySize is the curve size for ecdsa or modulus size for rsa.
	KeySize int
}

// DefaultOptions returns the options used for the holepunch root CA.
func DefaultOptions() Options {
	kr := csr.NewKeyRequest()
	return Options{
		CommonName:   AppName + "-root",
		Country:      "NET",
		Organization: AppName,
		Validity:     DefaultValidity,
		KeyAlgo:      kr.Algo(),
		KeySize:      kr.Size(),
	}
}

func (o Options) validate() error {
	if o.CommonName == "" {
		return util.Errorf(util.KindConfig, "CA common name is empty")
	}
	if o.Validity <= 0 {
		return util.Errorf(util.KindConfig, "CA validity must be positive, got %s", o.Validity)
	}
	switch o.KeyAlgo {
	case "ecdsa", "rsa":
	default:
		return util.Errorf(util.KindConfig, "unsupported CA key algorithm %q", o.KeyAlgo)
	}
	return nil
}

// request builds the cfssl certificate request for a root certificate.
func (o Options) request() *csr.CertificateRequest {
	req := csr.New()
	req.CN = o.CommonName
	req.Names = []csr.Name{{C: o.Country, O: o.Organization}}
	req.KeyRequest = &csr.KeyRequest{A: o.KeyAlgo, S: o.KeySize}
	req.CA = &csr.CAConfig{Expiry: o.Validity.String()}
	return req
}
