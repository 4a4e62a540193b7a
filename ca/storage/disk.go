package storage

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/holepunch/holepunch/ca/storage/util"
	herr "github.com/holepunch/holepunch/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const (
	// KeyMode is the permission set for the CA private key.
	KeyMode os.FileMode = 0600
	// CertMode is the permission set for the CA certificate.
	CertMode os.FileMode = 0644
)

// FileBackend is used for storing the CA key and certificate on disk and
// enforcing permissions.
type FileBackend struct {
	cert *util.CertificateFile
	key  *util.KeyFile
	log  zerolog.Logger
}

// NewFileBackend creates a storage backend for the given key and certificate
// paths.
func NewFileBackend(keyPath, certPath string) (*FileBackend, error) {
	if keyPath == "" || certPath == "" {
		return nil, herr.Errorf(herr.KindConfig, "both key and certificate paths are required, received key=%q cert=%q", keyPath, certPath)
	}
	if keyPath == certPath {
		return nil, herr.Errorf(herr.KindConfig, "backend storage path %s isn't unique", keyPath)
	}
	fb := &FileBackend{
		cert: &util.CertificateFile{File: util.File{Path: certPath, Mode: CertMode}},
		key:  &util.KeyFile{File: util.File{Path: keyPath, Mode: KeyMode}},
	}
	// register a contextual logger to include these fields
	fb.log = log.With().Str("filebackend", fb.String()).Logger()
	return fb, nil
}

func (fb *FileBackend) String() string {
	return fmt.Sprintf("file backend: key=%s, cert=%s", fb.key, fb.cert)
}

// GetPaths returns the paths that this backend manages
func (fb *FileBackend) GetPaths() []string {
	return []string{fb.key.Path, fb.cert.Path}
}

// HasKey reports whether the key file exists.
func (fb *FileBackend) HasKey() bool {
	return fb.key.Exists()
}

// HasCertificate reports whether the certificate file exists.
func (fb *FileBackend) HasCertificate() bool {
	return fb.cert.Exists()
}

// LoadKey reads the key from disk.  Loose permissions are logged, not fatal,
// since externally managed keys are outside our control.
func (fb *FileBackend) LoadKey() (crypto.Signer, []byte, error) {
	fb.log.Debug().Msg("loading CA key")
	key, data, err := fb.key.ReadKey()
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "key file %s", fb.key.Path)
	}
	if err := fb.key.CheckPermissions(); err != nil {
		fb.log.Warn().Err(err).Msg("CA key permissions are too open")
	}
	return key, data, nil
}

// LoadCertificate reads the CA certificate from disk.
func (fb *FileBackend) LoadCertificate() (*x509.Certificate, []byte, error) {
	fb.log.Debug().Msg("loading CA certificate")
	cert, data, err := fb.cert.ReadCertificate()
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "certificate file %s", fb.cert.Path)
	}
	return cert, data, nil
}

// Store writes new PKI content to disk, enforcing permissions.
func (fb *FileBackend) Store(certPEM, keyPEM []byte) error {
	fb.log.Info().Bool("key", keyPEM != nil).Msg("persisting PKI")
	if err := fb.cert.WriteCertificate(certPEM); err != nil {
		return errors.WithMessage(err, "failed writing certificate to disk")
	}
	if keyPEM == nil {
		return nil
	}
	// the key lands last: until it exists the pair counts as absent and is
	// regenerated in full.
	if err := fb.key.WriteFile(keyPEM); err != nil {
		return errors.WithMessage(err, "failed writing key to disk")
	}
	return nil
}

// Lock takes an exclusive flock on a sibling of the key file.  It blocks
// until any other holder releases it.
func (fb *FileBackend) Lock() (func() error, error) {
	lockPath := fb.key.Path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, KeyMode)
	if err != nil {
		return nil, herr.Wrapf(herr.KindIO, err, "opening lock %s", lockPath)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, herr.Wrapf(herr.KindIO, err, "locking %s", lockPath)
	}
	fb.log.Debug().Str("lock", lockPath).Msg("acquired PKI lock")
	return func() error {
		uerr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
		cerr := f.Close()
		if uerr != nil {
			return herr.Wrap(herr.KindIO, uerr)
		}
		return herr.Wrap(herr.KindIO, cerr)
	}, nil
}
