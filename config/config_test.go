package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holepunch/holepunch/util"
	"github.com/stretchr/testify/require"
)

func TestDefaultDocument(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Parse(dir, []byte(DefaultDocument))
	require.NoError(t, err)

	require.True(t, cfg.IsManaged())
	m := cfg.CA.(Managed)
	require.Equal(t, filepath.Join(dir, "root-ca.cert"), m.Certificate)
	require.Equal(t, filepath.Join(dir, "root-ca.key"), m.Key)
	require.Equal(t, filepath.Join(dir, "root-ca.crl"), m.CRLs)
	require.Empty(t, m.Notify)

	require.Equal(t, []ProfileConfig{{Name: "default"}}, cfg.Profiles)
	require.Equal(t, DefaultRelay(), cfg.Relay)
	require.Equal(t, MetricsConfig{Address: "localhost"}, cfg.Metrics)

	key, cert := cfg.CAPaths()
	require.Equal(t, m.Key, key)
	require.Equal(t, m.Certificate, cert)
}

func TestUnmanaged(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Parse(dir, []byte("ca:\n  managed: false\n  certificate: /elsewhere/ca.pem\n"))
	require.NoError(t, err)
	require.Equal(t, Unmanaged{}, cfg.CA)
	require.False(t, cfg.IsManaged())

	key, cert := cfg.CAPaths()
	require.Equal(t, filepath.Join(dir, DefaultKeyFile), key)
	require.Equal(t, filepath.Join(dir, DefaultCertificateFile), cert)
}

func TestManagedPaths(t *testing.T) {
	doc := `
ca:
  managed: true
  certificate: /srv/pki/ca.pem
  key: keys/ca-key.pem
  notify: "touch /tmp/reloaded"
profiles:
  default:
  laptop:
    certificate: ./laptop.cert
  phone: {certificate: /srv/pki/phone.pem}
relay:
  port: 9000
  heartbeat: 1m
metrics:
  port: "8080"
`
	cfg, err := Parse("/etc/holepunch", []byte(doc))
	require.NoError(t, err)

	m := cfg.CA.(Managed)
	require.Equal(t, "/srv/pki/ca.pem", m.Certificate)
	require.Equal(t, "/etc/holepunch/keys/ca-key.pem", m.Key)
	require.Empty(t, m.CRLs)
	require.Equal(t, "touch /tmp/reloaded", m.Notify)
	require.Nil(t, m.Service)

	require.Equal(t, []ProfileConfig{
		{Name: "default"},
		{Name: "laptop", Certificate: "/etc/holepunch/laptop.cert"},
		{Name: "phone", Certificate: "/srv/pki/phone.pem"},
	}, cfg.Profiles)

	p, ok := cfg.Profile("laptop")
	require.True(t, ok)
	require.Equal(t, "/etc/holepunch/laptop.cert", p.Certificate)
	_, ok = cfg.Profile("tablet")
	require.False(t, ok)

	require.Equal(t, 9000, cfg.Relay.Port)
	require.Equal(t, time.Minute, cfg.Relay.Heartbeat.Duration())
	require.Equal(t, DefaultReadTimeout, cfg.Relay.ReadTimeout.Duration())
	require.Equal(t, DefaultRelayAddress, cfg.Relay.Address)
	require.Equal(t, MetricsConfig{Address: "localhost", Port: "8080"}, cfg.Metrics)
}

func TestManagedService(t *testing.T) {
	doc := `
ca:
  managed: true
  certificate: ./ca.cert
  key: ./ca.key
  service:
    manager: systemd
    name: holepunch-peer
    check_status: true
`
	cfg, err := Parse("/etc/holepunch", []byte(doc))
	require.NoError(t, err)
	require.Equal(t, &ServiceConfig{
		Manager:     "systemd",
		Name:        "holepunch-peer",
		Action:      "restart",
		CheckStatus: true,
	}, cfg.CA.(Managed).Service)
}

func TestConfigErrors(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		message string
	}{
		{"empty", "", "Missing 'ca' section."},
		{"no ca", "profiles:\n  default: {}\n", "Missing 'ca' section."},
		{"no managed", "ca:\n  key: ./k\n", "Missing 'managed' arg for 'ca' section."},
		{"managed type", "ca:\n  managed: \"yes\"\n", "Incorrect type for 'ca managed'. Expected `bool`."},
		{"no certificate", "ca:\n  managed: true\n  key: ./k\n", "Missing 'certificate' arg for 'ca' section."},
		{"no key", "ca:\n  managed: true\n  certificate: ./c\n", "Missing 'key' arg for 'ca' section."},
		{"empty key", "ca:\n  managed: true\n  certificate: ./c\n  key: \"\"\n", "Missing 'key' arg for 'ca' section."},
		{"key type", "ca:\n  managed: true\n  certificate: ./c\n  key: 3\n", "Incorrect type for 'ca key'. Expected `string`."},
		{"crls type", "ca:\n  managed: true\n  certificate: ./c\n  key: ./k\n  crls: [a]\n", "Incorrect type for 'ca crls'. Expected `string`."},
		{"service type", "ca:\n  managed: true\n  certificate: ./c\n  key: ./k\n  service: systemd\n", "Incorrect type for 'ca service'. Expected `mapping`."},
		{"service no name", "ca:\n  managed: true\n  certificate: ./c\n  key: ./k\n  service: {manager: systemd}\n", "Missing 'name' arg for 'ca service' section."},
		{"service unknown key", "ca:\n  managed: true\n  certificate: ./c\n  key: ./k\n  service: {manager: systemd, name: x, unit: y}\n", "Unknown 'unit' arg for 'ca service' section."},
		{"service status type", "ca:\n  managed: true\n  certificate: ./c\n  key: ./k\n  service: {manager: systemd, name: x, check_status: 1}\n", "Expected `bool`."},
		{"service and notify", "ca:\n  managed: true\n  certificate: ./c\n  key: ./k\n  notify: x\n  service: {manager: systemd, name: x}\n", "Only one of 'notify' and 'service'"},
		{"same file", "ca:\n  managed: true\n  certificate: ./ca\n  key: ca\n", "must be different files"},
		{"unknown ca key", "ca:\n  managed: false\n  chain: ./x\n", "Unknown 'chain' arg for 'ca' section."},
		{"ca not a mapping", "ca: managed\n", "cannot unmarshal"},
		{"profile certificate type", "ca: {managed: false}\nprofiles:\n  laptop: {certificate: 12}\n", "Incorrect type for 'profile certificate'. Expected `string`."},
		{"profile unknown key", "ca: {managed: false}\nprofiles:\n  laptop: {cert: ./x}\n", "Unknown 'cert' arg for 'profile laptop' section."},
		{"profile body", "ca: {managed: false}\nprofiles:\n  laptop: ./x\n", "Incorrect type for 'profile laptop'. Expected `mapping`."},
		{"duplicate profile", "ca: {managed: false}\nprofiles:\n  laptop: {}\n  laptop: {}\n", "laptop"},
		{"unknown relay key", "ca: {managed: false}\nrelay:\n  prot: 1\n", "prot"},
		{"unknown metrics key", "ca: {managed: false}\nmetrics:\n  host: x\n", "host"},
		{"relay port type", "ca: {managed: false}\nrelay:\n  port: http\n", "cannot unmarshal"},
		{"relay port range", "ca: {managed: false}\nrelay:\n  port: 70000\n", "relay port"},
		{"relay bad duration", "ca: {managed: false}\nrelay:\n  heartbeat: often\n", "often"},
		{"relay zero max", "ca: {managed: false}\nrelay:\n  max_message_size: 0\n", "max_message_size"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("/etc/holepunch", []byte(tc.doc))
			require.Error(t, err)
			require.True(t, util.IsKind(err, util.KindConfig), "expected a config error, got %v", err)
			require.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestConfigParseErrors(t *testing.T) {
	for _, doc := range []string{
		"ca: [managed\n",
		"\tca:\n",
		"ca: managed: true\n",
		"ca: {managed: true\n",
	} {
		_, err := Parse("/etc/holepunch", []byte(doc))
		require.Error(t, err)
		require.True(t, util.IsKind(err, util.KindConfigParse), "expected a parse error for %q, got %v", doc, err)
	}
}

func TestLoadWritesDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "holepunch")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.True(t, cfg.IsManaged())
	require.Equal(t, dir, cfg.Dir)

	data, err := os.ReadFile(Path(dir))
	require.NoError(t, err)
	require.Equal(t, DefaultDocument, string(data))

	// An existing document is read, not replaced.
	custom := "ca:\n  managed: false\n"
	require.NoError(t, os.WriteFile(Path(dir), []byte(custom), 0644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.False(t, cfg.IsManaged())

	data, err = os.ReadFile(Path(dir))
	require.NoError(t, err)
	require.Equal(t, custom, string(data))
}

func TestLoadRelativeDir(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load("conf")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(cfg.Dir))

	key, _ := cfg.CAPaths()
	require.True(t, filepath.IsAbs(key), key)
}

func TestWriteDefaultForce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("ca: {managed: false}\n"), 0644))

	err := WriteDefault(dir, false)
	require.Error(t, err)
	require.True(t, util.IsKind(err, util.KindIO))
	require.ErrorIs(t, err, os.ErrExist)

	require.NoError(t, WriteDefault(dir, true))
	data, err := os.ReadFile(Path(dir))
	require.NoError(t, err)
	require.Equal(t, DefaultDocument, string(data))
}

func TestDefaultDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	t.Setenv("HOME", "/tmp/home-test")

	dir, err := DefaultDir()
	require.NoError(t, err)
	require.Equal(t, AppName, filepath.Base(dir))
}
