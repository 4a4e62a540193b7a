package ca

import (
	"context"
	"crypto"

	"github.com/cloudflare/cfssl/initca"
	"github.com/holepunch/holepunch/ca/storage"
	sutil "github.com/holepunch/holepunch/ca/storage/util"
	"github.com/holepunch/holepunch/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager creates, loads and persists the root CA.
type Manager struct {
	opts  Options
	store storage.PKIStorage
	log   zerolog.Logger
}

// New returns a Manager generating material per opts and persisting it to
// store.
func New(opts Options, store storage.PKIStorage) (*Manager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("ca: no storage backend given")
	}
	return &Manager{
		opts:  opts,
		store: store,
		log:   log.With().Strs("paths", store.GetPaths()).Logger(),
	}, nil
}

// NewFileManager returns a Manager storing the key and certificate at the
// given paths.
func NewFileManager(opts Options, keyPath, certPath string) (*Manager, error) {
	fb, err := storage.NewFileBackend(keyPath, certPath)
	if err != nil {
		return nil, err
	}
	return New(opts, fb)
}

// Ensure returns the CA, generating whatever is missing.  A missing key
// means a new key and a new certificate, even if a certificate is present,
// since that certificate was signed by the key that is gone.  A present key
// with a missing certificate gets a new certificate.  Material that is
// present is loaded unchanged, and a file that is present but malformed is
// an error, never a reason to regenerate.
func (m *Manager) Ensure(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock, err := m.store.Lock()
	if err != nil {
		return nil, err
	}
	defer m.release(unlock)

	if !m.store.HasKey() {
		if m.store.HasCertificate() {
			m.log.Warn().Msg("CA key is missing; replacing the orphaned CA certificate")
		} else {
			m.log.Info().Msg("no CA present, generating")
		}
		return m.generate(ctx)
	}

	key, err := m.loadKey()
	if err != nil {
		return nil, err
	}

	if !m.store.HasCertificate() {
		m.log.Info().Msg("CA certificate is missing, issuing a new one for the existing key")
		cert, err := m.issue(ctx, key.Signer)
		if err != nil {
			return nil, err
		}
		if err := m.store.Store(cert.PEM, nil); err != nil {
			return nil, err
		}
		GenerateCount.WithLabelValues("certificate").Inc()
		return m.done(&Bundle{Key: *key, Cert: *cert, GeneratedCert: true}), nil
	}

	cert, err := m.loadCertificate(key)
	if err != nil {
		return nil, err
	}
	m.log.Debug().Msg("loaded existing CA")
	return m.done(&Bundle{Key: *key, Cert: *cert}), nil
}

// Load reads the CA from storage without ever generating or writing.  This
// is used when the CA is managed outside of holepunch.
func (m *Manager) Load(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := m.loadKey()
	if err != nil {
		return nil, err
	}
	cert, err := m.loadCertificate(key)
	if err != nil {
		return nil, err
	}
	return m.done(&Bundle{Key: *key, Cert: *cert}), nil
}

// Create unconditionally generates a new key and certificate, overwriting
// what is stored.  Anything trusting the previous CA stops working; callers
// should confirm with the user first.
func (m *Manager) Create(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock, err := m.store.Lock()
	if err != nil {
		return nil, err
	}
	defer m.release(unlock)

	m.log.Warn().Msg("regenerating CA")
	return m.generate(ctx)
}

func (m *Manager) release(unlock func() error) {
	if err := unlock(); err != nil {
		m.log.Error().Err(err).Msg("failed releasing PKI lock")
	}
}

// generate creates and persists a fresh pair.  Callers hold the lock.
func (m *Manager) generate(ctx context.Context) (*Bundle, error) {
	key, err := m.newKey()
	if err != nil {
		return nil, err
	}
	cert, err := m.issue(ctx, key.Signer)
	if err != nil {
		return nil, err
	}
	if err := m.store.Store(cert.PEM, key.PEM); err != nil {
		return nil, err
	}
	GenerateCount.WithLabelValues("key").Inc()
	GenerateCount.WithLabelValues("certificate").Inc()
	return m.done(&Bundle{Key: *key, Cert: *cert, GeneratedKey: true, GeneratedCert: true}), nil
}

func (m *Manager) newKey() (*KeyMaterial, error) {
	req := m.opts.request()
	priv, err := req.KeyRequest.Generate()
	if err != nil {
		return nil, util.Wrapf(util.KindCertificate, err, "generating %s-%d CA key", m.opts.KeyAlgo, m.opts.KeySize)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, util.Errorf(util.KindCertificate, "generated %s key can't sign", m.opts.KeyAlgo)
	}
	keyPEM, err := sutil.EncodeKeyToPem(signer)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{Signer: signer, PEM: keyPEM}, nil
}

// issue self-signs a root certificate for signer.
func (m *Manager) issue(ctx context.Context, signer crypto.Signer) (*Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	certPEM, _, err := initca.NewFromSigner(m.opts.request(), signer)
	if err != nil {
		return nil, util.Wrapf(util.KindCertificate, err, "self-signing CA certificate")
	}
	parsed, err := sutil.DecodeCertificateFromPEM(certPEM)
	if err != nil {
		return nil, errors.WithMessage(err, "freshly issued CA certificate")
	}
	return &Certificate{X509: parsed, PEM: certPEM}, nil
}

func (m *Manager) loadKey() (*KeyMaterial, error) {
	signer, keyPEM, err := m.store.LoadKey()
	if err != nil {
		LoadFailureCount.Inc()
		return nil, err
	}
	return &KeyMaterial{Signer: signer, PEM: keyPEM}, nil
}

// loadCertificate reads the stored certificate and checks it was issued for
// key.
func (m *Manager) loadCertificate(key *KeyMaterial) (*Certificate, error) {
	parsed, certPEM, err := m.store.LoadCertificate()
	if err != nil {
		LoadFailureCount.Inc()
		return nil, err
	}
	if err := sutil.CheckKeyPair(key.Signer, parsed); err != nil {
		LoadFailureCount.Inc()
		return nil, errors.WithMessagef(err, "stored CA certificate %s", displayName(parsed.Subject))
	}
	return &Certificate{X509: parsed, PEM: certPEM}, nil
}

func (m *Manager) done(b *Bundle) *Bundle {
	Expires.Set(float64(b.Cert.X509.NotAfter.Unix()))
	m.log.Info().
		Str("subject", displayName(b.Cert.X509.Subject)).
		Str("sha256", b.Cert.Fingerprint()).
		Time("not_after", b.Cert.X509.NotAfter).
		Bool("generated_key", b.GeneratedKey).
		Bool("generated_cert", b.GeneratedCert).
		Msg("CA ready")
	return b
}
