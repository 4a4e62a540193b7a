package storage

import (
	"os"
	"os/exec"

	herr "github.com/holepunch/holepunch/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Notifiers export the stored paths through these variables.
const (
	EnvCertPath = "HOLEPUNCH_CA_CERT_PATH"
	EnvKeyPath  = "HOLEPUNCH_CA_KEY_PATH"
)

var (
	shellBinary    string
	canCheckSyntax bool
)

func init() {
	if path, err := exec.LookPath("bash"); err == nil {
		shellBinary, canCheckSyntax = path, true
	} else if path, err := exec.LookPath("sh"); err == nil {
		shellBinary = path
	}
}

// runEnv runs prog with the process environment extended by env.  Output
// goes to stderr so it never mixes with relayed payloads on stdout.
func runEnv(env map[string]string, prog string, args ...string) error {
	cmd := exec.Command(prog, args...)
	cmd.Env = os.Environ()
	for key, val := range env {
		cmd.Env = append(cmd.Env, key+"="+val)
	}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	log.Debug().Str("prog", prog).Strs("args", args).Msg("storage: running command")
	return cmd.Run()
}

func notifyEnv(fb *FileBackend) map[string]string {
	return map[string]string{
		EnvCertPath: fb.cert.Path,
		EnvKeyPath:  fb.key.Path,
	}
}

// FileCommandNotifier persists to a FileBackend and then runs a shell
// command so whatever trusts the CA can pick up the new material.
type FileCommandNotifier struct {
	*FileBackend
	command string
}

// NewFileCommandNotifier wraps fb.  When bash is available the command is
// syntax checked up front.
func NewFileCommandNotifier(fb *FileBackend, command string) (*FileCommandNotifier, error) {
	switch {
	case shellBinary == "":
		return nil, errors.New("notify command configured, but neither bash nor sh is in PATH")
	case canCheckSyntax:
		if err := runEnv(nil, shellBinary, "-n", "-c", command); err != nil {
			return nil, errors.WithMessagef(err, "notify command %q does not parse", command)
		}
	default:
		log.Warn().Str("command", command).Msg("storage: bash not found, notify command is not syntax checked")
	}
	return &FileCommandNotifier{FileBackend: fb, command: command}, nil
}

// Store persists the material, then runs the command.  A failing command
// is an IO error and is returned even though the material was persisted,
// so callers treat a broken hook as fatal.
func (f *FileCommandNotifier) Store(certPEM, keyPEM []byte) error {
	if err := f.FileBackend.Store(certPEM, keyPEM); err != nil {
		return errors.WithMessage(err, "while persisting to disk")
	}

	log.Info().Str("command", f.command).Msg("storage: running notify command")
	err := runEnv(notifyEnv(f.FileBackend), shellBinary, "-c", f.command)
	if err != nil {
		return herr.Wrapf(herr.KindIO, err, "CA was persisted, but the notify command failed")
	}
	return nil
}
