// Package metrics serves the Prometheus endpoint and keeps the snapshot
// values shown on its index page.
package metrics

import (
	"context"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Namespace prefixes every holepunch metric.
const Namespace = "holepunch"

var (
	startTime time.Time
)

func init() {
	startTime = time.Now()
}

var indexPage = `<html>
<head><title>holepunch</title></head>
  <body>
    <h2>holepunch relay</h2>
    <p>Server started at %s, metrics listening on %s</p>
    <h4>Endpoints</h4>
    <ul>
      <li>Prometheus endpoint: <a href="/metrics"><code>/metrics</code></a></li>
      <li>pprof endpoint: <a href="/debug/pprof/"><code>/debug/pprof</code></a></li>
    </ul>
    <h4>Snapshot</h4>
    <ul>
%s    </ul>
  </body>
</html>
`

func genServeIndex(addr string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		var values strings.Builder
		for _, v := range snapshot() {
			fmt.Fprintf(&values, "      <li><code>%s</code>: %g</li>\n", html.EscapeString(v.Name), v.Value)
		}
		page := fmt.Sprintf(indexPage, startTime.Format("2006-01-02T15:04:05-0700"), addr, values.String())
		io.WriteString(w, page)
	}
}

// Handler returns the index page, the Prometheus endpoint and pprof on
// one mux.  addr is only used for display.
func Handler(addr string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", genServeIndex(addr))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start initialises the Prometheus endpoint if metrics have been
// configured.  The endpoint is shut down when ctx is cancelled.
func Start(ctx context.Context, addr, port string) {
	if addr == "" || port == "" {
		log.Warn().Msg("metrics: no prometheus address or port configured")
		return
	}

	addr = net.JoinHostPort(addr, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(addr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Msgf("metrics: starting Prometheus endpoint on http://%s/", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics: endpoint failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
}
