package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	herr "github.com/holepunch/holepunch/util"
	"github.com/stretchr/testify/require"
)

func TestNewFileServiceNotifier(t *testing.T) {
	fb, err := NewFileBackend("/ca.key", "/ca.cert")
	require.NoError(t, err)

	for _, name := range SupportedServiceBackends {
		_, err := NewFileServiceNotifier(fb, name, &FileServiceOptions{Action: "reload", Service: "peer"})
		require.NoError(t, err, name)
	}

	_, err = NewFileServiceNotifier(fb, "launchd", &FileServiceOptions{Action: "reload", Service: "peer"})
	require.Error(t, err)
	_, err = NewFileServiceNotifier(fb, "systemd", &FileServiceOptions{Action: "stop", Service: "peer"})
	require.Error(t, err)
	_, err = NewFileServiceNotifier(fb, "systemd", &FileServiceOptions{Action: "restart"})
	require.Error(t, err)
}

// fakeServiceBinary writes a script that logs its arguments and exits
// with status.
func fakeServiceBinary(t *testing.T, dir, status string) (string, string) {
	t.Helper()
	if shellBinary == "" {
		t.Skip("no shell available")
	}

	logPath := filepath.Join(dir, "invocations")
	script := filepath.Join(dir, "svc")
	body := "#!" + shellBinary + "\necho \"$@ $HOLEPUNCH_CA_KEY_PATH\" >> " + logPath + "\nexit " + status + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))
	return script, logPath
}

func readInvocations(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestFileServiceNotifierStore(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "ca.key")
	fb, err := NewFileBackend(keyPath, filepath.Join(dir, "ca.cert"))
	require.NoError(t, err)

	n, err := NewFileServiceNotifier(fb, "systemd", &FileServiceOptions{Action: "reload", Service: "peer", CheckTargetStatus: true})
	require.NoError(t, err)
	script, logPath := fakeServiceBinary(t, dir, "0")
	n.serviceBinary = script

	require.NoError(t, n.Store([]byte("cert"), nil))
	require.True(t, fb.HasCertificate())
	require.Equal(t, []string{
		"is-active peer " + keyPath,
		"reload peer " + keyPath,
	}, readInvocations(t, logPath))
}

func TestFileServiceNotifierInactiveTarget(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "ca.key")
	fb, err := NewFileBackend(keyPath, filepath.Join(dir, "ca.cert"))
	require.NoError(t, err)

	n, err := NewFileServiceNotifier(fb, "openrc", &FileServiceOptions{Action: "restart", Service: "peer", CheckTargetStatus: true})
	require.NoError(t, err)
	script, logPath := fakeServiceBinary(t, dir, "3")
	n.serviceBinary = script

	require.NoError(t, n.Store([]byte("cert"), nil), "an inactive service is skipped, not an error")
	require.Equal(t, []string{"peer status " + keyPath}, readInvocations(t, logPath))
}

func TestFileServiceNotifierActionFails(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(filepath.Join(dir, "ca.key"), filepath.Join(dir, "ca.cert"))
	require.NoError(t, err)

	n, err := NewFileServiceNotifier(fb, "sysv", &FileServiceOptions{Action: "restart", Service: "peer"})
	require.NoError(t, err)
	script, _ := fakeServiceBinary(t, dir, "1")
	n.serviceBinary = script

	err = n.Store([]byte("cert"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to restart service peer")
	require.True(t, herr.IsKind(err, herr.KindIO), "%v", err)
	require.True(t, fb.HasCertificate(), "material is persisted before the action runs")
}
