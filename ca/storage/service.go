package storage

import (
	"os/exec"
	"sort"

	herr "github.com/holepunch/holepunch/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileServiceOptions selects the service to act on after new CA material
// has been persisted.
type FileServiceOptions struct {
	Action            string
	Service           string
	CheckTargetStatus bool
}

// serviceManager describes how an init system is driven.  An empty
// status means the manager has no usable status command.
type serviceManager struct {
	binary   string
	status   string
	trailing bool
}

func (m serviceManager) args(subcommand, service string) []string {
	if m.trailing {
		return []string{service, subcommand}
	}
	return []string{subcommand, service}
}

var serviceManagers = map[string]serviceManager{
	"circus":  {binary: "circusctl", status: "status"},
	"openrc":  {binary: "rc-service", status: "status", trailing: true},
	"systemd": {binary: "systemctl", status: "is-active"},
	"sysv":    {binary: "service", trailing: true},
}

// SupportedServiceBackends lists the init systems a FileServiceNotifier
// can drive.
var SupportedServiceBackends = func() []string {
	names := make([]string, 0, len(serviceManagers))
	for name := range serviceManagers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}()

// FileServiceNotifier persists to a FileBackend and then restarts or
// reloads a service through its init system.
type FileServiceNotifier struct {
	*FileBackend
	*FileServiceOptions
	manager       serviceManager
	serviceBinary string
}

// NewFileServiceNotifier wraps fb, driving the init system called name.
func NewFileServiceNotifier(fb *FileBackend, name string, opts *FileServiceOptions) (*FileServiceNotifier, error) {
	m, ok := serviceManagers[name]
	if !ok {
		return nil, errors.Errorf("service manager %q isn't supported (supported: %v)", name, SupportedServiceBackends)
	}
	if opts.Action != "reload" && opts.Action != "restart" {
		return nil, errors.Errorf("service manager %s: action %q must be 'restart' or 'reload'", name, opts.Action)
	}
	if opts.Service == "" {
		return nil, errors.Errorf("service manager %s: no service named for %s", name, opts.Action)
	}
	return &FileServiceNotifier{
		FileBackend:        fb,
		FileServiceOptions: opts,
		manager:            m,
		serviceBinary:      m.binary,
	}, nil
}

func (f *FileServiceNotifier) invoke(subcommand string) error {
	return errors.WithMessagef(
		runEnv(notifyEnv(f.FileBackend), f.serviceBinary, f.manager.args(subcommand, f.Service)...),
		"%s %s", f.serviceBinary, subcommand,
	)
}

// active reports whether the service is running.  Without a status check
// the service is assumed to be running.
func (f *FileServiceNotifier) active() (bool, error) {
	if !f.CheckTargetStatus || f.manager.status == "" {
		return true, nil
	}

	err := f.invoke(f.manager.status)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr):
		log.Info().Str("service", f.Service).Int("status", exitErr.ExitCode()).Msg("storage: service not active, skipping " + f.Action)
		return false, nil
	}
	return false, herr.Wrapf(herr.KindIO, err, "checking status of service %s", f.Service)
}

// Store persists the material, then actions the service if it is active.
// As with FileCommandNotifier a failed action is an IO error.
func (f *FileServiceNotifier) Store(certPEM, keyPEM []byte) error {
	if err := f.FileBackend.Store(certPEM, keyPEM); err != nil {
		return errors.WithMessage(err, "while persisting to disk")
	}

	ok, err := f.active()
	if err != nil || !ok {
		return err
	}

	log.Info().Str("service", f.Service).Str("action", f.Action).Msg("storage: actioning service")
	if err := f.invoke(f.Action); err != nil {
		return herr.Wrapf(herr.KindIO, err, "failed to %s service %s", f.Action, f.Service)
	}
	return nil
}
