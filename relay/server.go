package relay

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/holepunch/holepunch/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server accepts connections and serves each one on its own goroutine.
// Payloads from every connection go to one shared sink.
type Server struct {
	sink *LockedWriter
	opts Options

	wg    sync.WaitGroup
	lock  sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer returns a Server forwarding message payloads to sink.
func NewServer(sink io.Writer, opts Options) *Server {
	return &Server{
		sink:  NewLockedWriter(sink),
		opts:  opts,
		conns: map[net.Conn]struct{}{},
	}
}

func (s *Server) track(nc net.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.conns[nc] = struct{}{}
}

func (s *Server) untrack(nc net.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.conns, nc)
}

func (s *Server) closeAll() {
	s.lock.Lock()
	defer s.lock.Unlock()
	for nc := range s.conns {
		nc.Close()
	}
}

// Serve accepts connections on ln until ctx is cancelled or the listener
// fails.  On cancellation the listener and every live connection are
// closed and Serve returns nil once all workers have finished.  A failed
// connection is logged and never stops the listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeAll()
	})
	defer stop()
	defer s.wg.Wait()

	log.Info().Str("address", ln.Addr().String()).Msg("relay: listening")

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("relay: shutting down")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return util.Wrapf(util.KindIO, err, "relay: listener closed")
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			log.Error().Err(err).Dur("retry", backoff).Msg("relay: accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		ConnectionCount.Inc()
		s.track(nc)
		s.wg.Add(1)
		go s.handle(ctx, nc)
	}
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	defer s.wg.Done()
	defer s.untrack(nc)
	defer nc.Close()

	ActiveConnections.Inc()
	defer ActiveConnections.Dec()

	c := NewConn(nc, s.sink, s.opts)
	clog := c.log.With().Str("remote", nc.RemoteAddr().String()).Logger()
	clog.Info().Msg("relay: connection accepted")

	err := c.Serve(ctx)
	switch {
	case err == nil:
		clog.Info().Msg("relay: connection closed")
	case ctx.Err() != nil:
		clog.Info().Msg("relay: connection closed on shutdown")
	default:
		label := "unknown"
		if kind, ok := util.KindOf(err); ok {
			label = kind.String()
		}
		ConnectionErrorCount.WithLabelValues(label).Inc()
		clog.Error().Err(err).Msg("relay: connection failed")
	}
}
