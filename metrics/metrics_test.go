package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testCounter = NewCounter("test", "event_count", "test counter")
	testGauge   = NewGauge("test", "level", "test gauge")
)

func TestSnapshotValues(t *testing.T) {
	before := testCounter.Get()
	testCounter.Inc()
	testCounter.Inc()
	require.Equal(t, before+2, testCounter.Get())

	testGauge.Set(3)
	testGauge.Inc()
	testGauge.Dec()
	testGauge.Dec()
	require.Equal(t, 2.0, testGauge.Get())
}

func TestIndexPage(t *testing.T) {
	testGauge.Set(7)

	srv := httptest.NewServer(Handler("localhost:9000"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "localhost:9000")
	require.Contains(t, string(body), "<code>holepunch_test_level</code>: 7")
	require.Contains(t, string(body), "holepunch_test_event_count")
}

func TestUnknownPathNotFound(t *testing.T) {
	srv := httptest.NewServer(Handler("localhost:9000"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPrometheusEndpoint(t *testing.T) {
	testCounter.Inc()

	srv := httptest.NewServer(Handler("localhost:9000"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "holepunch_test_event_count")
}
