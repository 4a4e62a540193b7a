// Package config parses the holepunch configuration document.
//
// The document lives at config.yaml in the configuration directory.  The
// ca section selects between an externally managed CA and one whose
// material sits at configured paths; profiles name alternative
// certificates; relay and metrics tune the serve command.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/holepunch/holepunch/util"
	"github.com/kisom/goutils/fileutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v2"
)

// AppName names the per-user configuration directory.
const AppName = "holepunch"

const (
	// FileName is the configuration document inside the configuration
	// directory.
	FileName = "config.yaml"

	// DefaultKeyFile and DefaultCertificateFile are the CA files used
	// when the CA is unmanaged.
	DefaultKeyFile         = "root-ca.key"
	DefaultCertificateFile = "root-ca.cert"

	DefaultRelayAddress   = "0.0.0.0"
	DefaultRelayPort      = 4464
	DefaultReadTimeout    = 5 * time.Minute
	DefaultWriteTimeout   = 30 * time.Second
	DefaultHeartbeat      = 30 * time.Second
	DefaultMaxMessageSize = 16 << 20

	DefaultMetricsAddress = "localhost"
)

// CAConfig is how the CA is provisioned: either Managed or Unmanaged.
type CAConfig interface {
	caConfig()
}

// Unmanaged means the CA material is provided externally.  It is loaded
// from the default locations and never written.
type Unmanaged struct{}

func (Unmanaged) caConfig() {}

// Managed means holepunch generates and maintains the CA at the given
// absolute paths.
type Managed struct {
	Certificate string
	Key         string

	// CRLs is optional; revocation lists are not enforced.
	CRLs string

	// Notify is an optional command run after new material is written.
	Notify string

	// Service is an optional init system service actioned after new
	// material is written.  It excludes Notify.
	Service *ServiceConfig
}

// ServiceConfig names a service to restart or reload after new CA
// material is written.
type ServiceConfig struct {
	Manager     string
	Name        string
	Action      string
	CheckStatus bool
}

func (Managed) caConfig() {}

// ProfileConfig is a named profile with an optional certificate
// override.
type ProfileConfig struct {
	Name        string
	Certificate string
}

// RelayConfig tunes the relay listener.
type RelayConfig struct {
	Address        string                `yaml:"address"`
	Port           int                   `yaml:"port"`
	ReadTimeout    util.ParsableDuration `yaml:"read_timeout"`
	WriteTimeout   util.ParsableDuration `yaml:"write_timeout"`
	Heartbeat      util.ParsableDuration `yaml:"heartbeat"`
	MaxMessageSize uint64                `yaml:"max_message_size"`
}

// MetricsConfig locates the Prometheus endpoint.  An empty port disables
// it.
type MetricsConfig struct {
	Address string `yaml:"address"`
	Port    string `yaml:"port"`
}

// Config is a parsed configuration document.
type Config struct {
	// Dir is the absolute configuration directory; relative paths in
	// the document are resolved against it.
	Dir string

	CA       CAConfig
	Profiles []ProfileConfig
	Relay    RelayConfig
	Metrics  MetricsConfig
}

// Profile looks up a profile by name.
func (c *Config) Profile(name string) (ProfileConfig, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return ProfileConfig{}, false
}

// CAPaths returns the key and certificate paths for the CA.
func (c *Config) CAPaths() (key, cert string) {
	if m, ok := c.CA.(Managed); ok {
		return m.Key, m.Certificate
	}
	return filepath.Join(c.Dir, DefaultKeyFile), filepath.Join(c.Dir, DefaultCertificateFile)
}

// IsManaged reports whether holepunch maintains the CA material.
func (c *Config) IsManaged() bool {
	_, ok := c.CA.(Managed)
	return ok
}

// DefaultRelay returns the relay settings used when the document omits
// them.
func DefaultRelay() RelayConfig {
	return RelayConfig{
		Address:        DefaultRelayAddress,
		Port:           DefaultRelayPort,
		ReadTimeout:    util.ParsableDuration(DefaultReadTimeout),
		WriteTimeout:   util.ParsableDuration(DefaultWriteTimeout),
		Heartbeat:      util.ParsableDuration(DefaultHeartbeat),
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// DefaultDocument is written when no configuration file exists.
const DefaultDocument = `# The CA may be externally managed. When managed is false the CA is
# loaded from root-ca.key and root-ca.cert in this directory and is
# never written.
ca:
  managed: true
  certificate: ./root-ca.cert
  key: ./root-ca.key
  crls: ./root-ca.crl
  # Either run a command after new CA material is written:
  # notify: "pkill -HUP holepunch-peer"
  # or action a service through the init system:
  # service: {manager: systemd, name: holepunch-peer, action: reload, check_status: true}

profiles:
  default: {}

relay:
  address: 0.0.0.0
  port: 4464
  read_timeout: 5m
  write_timeout: 30s
  heartbeat: 30s
  max_message_size: 16777216

metrics:
  address: localhost
  port: ""
`

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", util.Wrapf(util.KindConfig, err, "locating configuration directory")
	}
	return filepath.Join(base, AppName), nil
}

// Path returns the configuration document path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads the configuration document from dir, writing the default
// document first if there is none.
func Load(dir string) (*Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, util.Wrapf(util.KindConfig, err, "resolving configuration directory")
	}

	path := Path(dir)
	if !fileutil.FileDoesExist(path) {
		log.Info().Str("path", path).Msg("config: writing default configuration")
		if err := WriteDefault(dir, false); err != nil {
			return nil, err
		}
	}

	in, err := os.ReadFile(path)
	if err != nil {
		return nil, util.Wrapf(util.KindIO, err, "reading %s", path)
	}
	return Parse(dir, in)
}

// WriteDefault writes DefaultDocument into dir, creating the directory.
// Unless force is set an existing document is left alone and reported
// as an error.
func WriteDefault(dir string, force bool) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return util.Wrapf(util.KindIO, err, "creating configuration directory %s", dir)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	path := Path(dir)
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return util.Wrapf(util.KindIO, err, "creating %s", path)
	}
	if _, err = f.WriteString(DefaultDocument); err != nil {
		f.Close()
		return util.Wrapf(util.KindIO, err, "writing %s", path)
	}
	return util.Wrap(util.KindIO, f.Close())
}

type document struct {
	CA       map[string]interface{} `yaml:"ca"`
	Profiles yaml.MapSlice          `yaml:"profiles"`
	Relay    RelayConfig            `yaml:"relay"`
	Metrics  MetricsConfig          `yaml:"metrics"`
}

func typeError(section, expected string) error {
	return util.Errorf(util.KindConfig, "Incorrect type for '%s'. Expected `%s`.", section, expected)
}

func missingArg(key, section string) error {
	return util.Errorf(util.KindConfig, "Missing '%s' arg for '%s' section.", key, section)
}

func unknownArg(key interface{}, section string) error {
	return util.Errorf(util.KindConfig, "Unknown '%v' arg for '%s' section.", key, section)
}

// Parse parses a configuration document, resolving relative paths
// against dir.  Structural problems are config errors; a document that
// isn't YAML is a config parse error.
func Parse(dir string, in []byte) (*Config, error) {
	doc := document{
		Relay:   DefaultRelay(),
		Metrics: MetricsConfig{Address: DefaultMetricsAddress},
	}

	if err := yaml.UnmarshalStrict(in, &doc); err != nil {
		var terr *yaml.TypeError
		if errors.As(err, &terr) {
			return nil, util.Wrapf(util.KindConfig, err, "invalid configuration")
		}
		if strings.HasPrefix(err.Error(), "yaml: ") {
			return nil, util.Wrapf(util.KindConfigParse, err, "parsing configuration")
		}
		return nil, util.Wrapf(util.KindConfig, err, "invalid configuration")
	}

	cfg := &Config{
		Dir:     dir,
		Relay:   doc.Relay,
		Metrics: doc.Metrics,
	}

	var err error
	if cfg.CA, err = parseCA(dir, doc.CA); err != nil {
		return nil, err
	}
	if cfg.Profiles, err = parseProfiles(dir, doc.Profiles); err != nil {
		return nil, err
	}
	if err = checkRelay(cfg.Relay); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}

func stringArg(section map[string]interface{}, key, name string, required bool) (string, error) {
	v, ok := section[key]
	if !ok || v == nil {
		if required {
			return "", missingArg(key, name)
		}
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", typeError(name+" "+key, "string")
	}
	return s, nil
}

func parseCA(dir string, section map[string]interface{}) (CAConfig, error) {
	if section == nil {
		return nil, util.Errorf(util.KindConfig, "Missing 'ca' section.")
	}

	for key := range section {
		switch key {
		case "managed", "certificate", "key", "crls", "notify", "service":
		default:
			return nil, unknownArg(key, "ca")
		}
	}

	v, ok := section["managed"]
	if !ok {
		return nil, missingArg("managed", "ca")
	}
	managed, ok := v.(bool)
	if !ok {
		return nil, typeError("ca managed", "bool")
	}
	if !managed {
		return Unmanaged{}, nil
	}

	var m Managed
	var err error
	if m.Certificate, err = stringArg(section, "certificate", "ca", true); err != nil {
		return nil, err
	}
	if m.Key, err = stringArg(section, "key", "ca", true); err != nil {
		return nil, err
	}
	if m.CRLs, err = stringArg(section, "crls", "ca", false); err != nil {
		return nil, err
	}
	if m.Notify, err = stringArg(section, "notify", "ca", false); err != nil {
		return nil, err
	}
	if m.Service, err = parseService(section["service"]); err != nil {
		return nil, err
	}
	if m.Service != nil && m.Notify != "" {
		return nil, util.Errorf(util.KindConfig, "Only one of 'notify' and 'service' may be set in 'ca' section.")
	}
	if m.Certificate == "" {
		return nil, missingArg("certificate", "ca")
	}
	if m.Key == "" {
		return nil, missingArg("key", "ca")
	}

	m.Certificate = resolve(dir, m.Certificate)
	m.Key = resolve(dir, m.Key)
	if m.CRLs != "" {
		m.CRLs = resolve(dir, m.CRLs)
	}
	if m.Key == m.Certificate {
		return nil, util.Errorf(util.KindConfig, "'ca' key and certificate must be different files")
	}
	return m, nil
}

func parseService(v interface{}) (*ServiceConfig, error) {
	if v == nil {
		return nil, nil
	}
	body, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, typeError("ca service", "mapping")
	}

	section := make(map[string]interface{}, len(body))
	for k, v := range body {
		key, ok := k.(string)
		if !ok {
			return nil, unknownArg(k, "ca service")
		}
		switch key {
		case "manager", "name", "action":
		case "check_status":
			if _, ok := v.(bool); !ok {
				return nil, typeError("ca service check_status", "bool")
			}
		default:
			return nil, unknownArg(key, "ca service")
		}
		section[key] = v
	}

	sc := &ServiceConfig{Action: "restart"}
	var err error
	if sc.Manager, err = stringArg(section, "manager", "ca service", true); err != nil {
		return nil, err
	}
	if sc.Name, err = stringArg(section, "name", "ca service", true); err != nil {
		return nil, err
	}
	if action, err := stringArg(section, "action", "ca service", false); err != nil {
		return nil, err
	} else if action != "" {
		sc.Action = action
	}
	sc.CheckStatus, _ = section["check_status"].(bool)
	return sc, nil
}

// profileFields flattens the mapping shapes yaml.v2 produces for a
// profile body.
func profileFields(name string, v interface{}) (yaml.MapSlice, error) {
	switch body := v.(type) {
	case nil:
		return nil, nil
	case yaml.MapSlice:
		return body, nil
	case map[interface{}]interface{}:
		fields := make(yaml.MapSlice, 0, len(body))
		for k, v := range body {
			fields = append(fields, yaml.MapItem{Key: k, Value: v})
		}
		return fields, nil
	}
	return nil, typeError("profile "+name, "mapping")
}

func parseProfiles(dir string, section yaml.MapSlice) ([]ProfileConfig, error) {
	profiles := make([]ProfileConfig, 0, len(section))
	seen := map[string]bool{}

	for _, item := range section {
		name, ok := item.Key.(string)
		if !ok || name == "" {
			return nil, typeError(fmt.Sprintf("profiles %v", item.Key), "string")
		}
		if seen[name] {
			return nil, util.Errorf(util.KindConfig, "Duplicate profile '%s' in 'profiles' section.", name)
		}
		seen[name] = true

		fields, err := profileFields(name, item.Value)
		if err != nil {
			return nil, err
		}

		p := ProfileConfig{Name: name}
		for _, field := range fields {
			if field.Key != "certificate" {
				return nil, unknownArg(field.Key, "profile "+name)
			}
			cert, ok := field.Value.(string)
			if !ok {
				return nil, typeError("profile certificate", "string")
			}
			p.Certificate = resolve(dir, cert)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func checkRelay(rc RelayConfig) error {
	if rc.Port < 0 || rc.Port > 65535 {
		return util.Errorf(util.KindConfig, "Incorrect value for 'relay port'. Expected a port number, got %d.", rc.Port)
	}
	if rc.MaxMessageSize == 0 {
		return util.Errorf(util.KindConfig, "Incorrect value for 'relay max_message_size'. Expected a positive size.")
	}
	if rc.ReadTimeout < 0 || rc.WriteTimeout < 0 || rc.Heartbeat < 0 {
		return util.Errorf(util.KindConfig, "Incorrect value for 'relay'. Durations cannot be negative.")
	}
	return nil
}
