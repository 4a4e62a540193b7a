package util

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/holepunch/holepunch/util"
	"github.com/kisom/goutils/fileutil"
	"github.com/pkg/errors"
)

// File contains path and mode information for a file holding PKI material.
type File struct {
	Path string
	Mode os.FileMode
}

func (f *File) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.Path
}

// Exists reports whether something is present at Path. Errors other than
// absence (permission denied on the directory, for example) count as
// present so they surface when the file is read.
func (f *File) Exists() bool {
	return fileutil.FileDoesExist(f.Path)
}

// ReadFile returns the content of the file.  Any failure is an IO error.
func (f *File) ReadFile() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, util.Wrap(util.KindIO, err)
	}
	return data, nil
}

// CheckPermissions returns an error if the on disk mode grants more than
// the configured Mode.
func (f *File) CheckPermissions() error {
	st, err := os.Stat(f.Path)
	if err != nil {
		return util.Wrap(util.KindIO, err)
	}
	if extra := st.Mode().Perm() &^ f.Mode.Perm(); extra != 0 {
		return fmt.Errorf("file %s has mode %s, wanted at most %s", f.Path, st.Mode().Perm(), f.Mode.Perm())
	}
	return nil
}

// WriteFile writes data via a temp file in the same directory, then
// atomically replaces the target; readers see either the old or the new
// content, never a partial write.
func (f *File) WriteFile(data []byte) error {
	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".tmp-*")
	if err != nil {
		return util.Wrap(util.KindIO, err)
	}
	tmpName := tmp.Name()
	// no-op once the rename succeeded.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return util.Wrapf(util.KindIO, err, "writing %s", tmpName)
	}
	if err := tmp.Chmod(f.Mode); err != nil {
		tmp.Close()
		return util.Wrapf(util.KindIO, err, "setting mode on %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return util.Wrapf(util.KindIO, err, "syncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return util.Wrap(util.KindIO, err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return util.Wrap(util.KindIO, errors.WithMessagef(err, "replacing %s", f.Path))
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return util.Wrap(util.KindIO, err)
	}
	defer d.Close()
	// some filesystems refuse fsync on directories; the rename has
	// already happened so this is only a durability hint.
	_ = d.Sync()
	return nil
}

// CertificateFile is a File holding a single PEM encoded CA certificate.
type CertificateFile struct {
	File
}

// ReadCertificate reads and decodes the certificate on disk, returning the
// parsed certificate along with the exact bytes read.
func (cf *CertificateFile) ReadCertificate() (*x509.Certificate, []byte, error) {
	data, err := cf.ReadFile()
	if err != nil {
		return nil, nil, err
	}
	cert, err := DecodeCertificateFromPEM(data)
	if err != nil {
		return nil, nil, err
	}
	return cert, data, nil
}

// WriteCertificate persists the given PEM encoded certificate.
func (cf *CertificateFile) WriteCertificate(certPEM []byte) error {
	return cf.WriteFile(certPEM)
}

// KeyFile is a File holding a PEM encoded private key.
type KeyFile struct {
	File
}

// ReadKey reads and decodes the private key on disk, returning the key along
// with the exact bytes read.
func (kf *KeyFile) ReadKey() (crypto.Signer, []byte, error) {
	data, err := kf.ReadFile()
	if err != nil {
		return nil, nil, err
	}
	key, err := DecodeKeyFromPem(data)
	if err != nil {
		return nil, nil, err
	}
	return key, data, nil
}
