// Package relay serves the envelope protocol: a per-connection state
// machine, a server that hands each accepted connection to its own
// worker and a client for the connect role.
package relay

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holepunch/holepunch/envelope"
	"github.com/holepunch/holepunch/util"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxMessageSize bounds the payload a single Message may announce.
const DefaultMaxMessageSize = 16 << 20

// ErrClosed is returned by Step once the connection has closed.
var ErrClosed = errors.New("relay: connection closed")

// State is the position of a Conn in its read cycle.
type State int

const (
	// AwaitEnvelope is waiting for the next header.
	AwaitEnvelope State = iota
	// Dispatch is acting on a decoded header.
	Dispatch
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitEnvelope:
		return "await-envelope"
	case Dispatch:
		return "dispatch"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Options tunes a connection.  Zero timeouts disable the deadline.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize uint64
}

func (o Options) maxMessageSize() uint64 {
	if o.MaxMessageSize == 0 {
		return DefaultMaxMessageSize
	}
	return o.MaxMessageSize
}

// Action describes what one Step did.
type Action struct {
	// Envelope is the header that was dispatched.
	Envelope envelope.Envelope
	// Forwarded is the number of payload bytes written to the sink.
	Forwarded int64
	// Replied is set when a Pong was written back.
	Replied bool
	// RTT is the round trip for a Pong answering a Ping sent on this
	// connection, and zero otherwise.
	RTT time.Duration
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Conn runs the envelope protocol over one byte stream.  Step and Serve
// must be called from a single goroutine; Send and Ping may be called
// concurrently with them.
type Conn struct {
	ID string

	rw    io.ReadWriter
	dl    deadliner
	sink  io.Writer
	opts  Options
	state State
	log   zerolog.Logger

	writeLock sync.Mutex

	pingLock sync.Mutex
	pingSent time.Time

	deadlineLock sync.Mutex
	interrupted  bool
}

// NewConn returns a Conn reading envelopes from rw and forwarding message
// payloads to sink.  A nil sink discards payloads.  If rw has read and
// write deadlines, as a net.Conn does, the timeouts in opts are applied.
func NewConn(rw io.ReadWriter, sink io.Writer, opts Options) *Conn {
	if sink == nil {
		sink = io.Discard
	}

	c := &Conn{
		ID:   uuid.NewString(),
		rw:   rw,
		sink: sink,
		opts: opts,
	}
	c.dl, _ = rw.(deadliner)
	c.log = log.With().Str("conn", c.ID).Logger()
	return c
}

// State returns the current state.
func (c *Conn) State() State {
	return c.state
}

func (c *Conn) close() {
	c.state = Closed
}

// readDeadline extends the read deadline by ReadTimeout, unless the
// connection has been interrupted.
func (c *Conn) readDeadline() {
	if c.dl == nil || c.opts.ReadTimeout <= 0 {
		return
	}
	c.deadlineLock.Lock()
	defer c.deadlineLock.Unlock()
	if !c.interrupted {
		c.dl.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

// interrupt fails any blocked or later read immediately.
func (c *Conn) interrupt() {
	c.deadlineLock.Lock()
	defer c.deadlineLock.Unlock()
	c.interrupted = true
	c.dl.SetReadDeadline(time.Now())
}

// Step runs one cycle: read a header, dispatch it, and return to
// AwaitEnvelope.  A clean end of stream before a header closes the
// connection and returns io.EOF; any other error also closes it.
func (c *Conn) Step() (Action, error) {
	if c.state == Closed {
		return Action{}, ErrClosed
	}

	c.state = AwaitEnvelope
	c.readDeadline()
	e, err := envelope.Decode(c.rw)
	if err != nil {
		c.close()
		if err == io.EOF {
			return Action{}, io.EOF
		}
		return Action{}, util.Wrap(util.KindIO, err)
	}

	c.state = Dispatch
	EnvelopeCount.WithLabelValues("received", e.Kind.String()).Inc()
	c.log.Debug().Stringer("envelope", e).Msg("received envelope")

	action := Action{Envelope: e}
	switch e.Kind {
	case envelope.KindPing:
		err = c.Send(envelope.Pong(), nil)
		action.Replied = err == nil
	case envelope.KindPong:
		action.RTT = c.pong()
	case envelope.KindMessage:
		action.Forwarded, err = c.forward(e.Length)
	}
	if err != nil {
		c.close()
		return action, err
	}

	c.state = AwaitEnvelope
	return action, nil
}

func (c *Conn) pong() time.Duration {
	c.pingLock.Lock()
	sent := c.pingSent
	c.pingSent = time.Time{}
	c.pingLock.Unlock()

	if sent.IsZero() {
		c.log.Debug().Msg("pong without outstanding ping")
		return 0
	}

	rtt := time.Since(sent)
	HeartbeatRTT.Observe(rtt.Seconds())
	c.log.Debug().Dur("rtt", rtt).Msg("heartbeat round trip")
	return rtt
}

// forward spools exactly n payload bytes and hands them to the sink in
// one write.  Nothing reaches the sink if the stream ends early.
func (c *Conn) forward(n uint64) (int64, error) {
	if limit := c.opts.maxMessageSize(); n > limit {
		return 0, util.Errorf(util.KindProtocol, "message of %d bytes exceeds the %d byte limit", n, limit)
	}
	if n == 0 {
		return 0, nil
	}

	var payload bytes.Buffer
	c.readDeadline()
	got, err := io.CopyN(&payload, c.rw, int64(n))
	if err != nil {
		if err == io.EOF {
			return 0, util.Wrapf(util.KindProtocol, io.ErrUnexpectedEOF, "short payload: read %d of %d bytes", got, n)
		}
		return 0, util.Wrapf(util.KindIO, err, "reading payload after %d of %d bytes", got, n)
	}

	written, err := c.sink.Write(payload.Bytes())
	if err != nil {
		return int64(written), util.Wrapf(util.KindIO, err, "writing payload to sink")
	}
	PayloadBytes.WithLabelValues("forwarded").Add(float64(written))
	return int64(written), nil
}

// Send writes e and its payload as a single write.  Writes from Step and
// from other goroutines are serialised.
func (c *Conn) Send(e envelope.Envelope, payload []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if c.dl != nil && c.opts.WriteTimeout > 0 {
		c.dl.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := envelope.Write(c.rw, e, payload); err != nil {
		return err
	}

	EnvelopeCount.WithLabelValues("sent", e.Kind.String()).Inc()
	if len(payload) > 0 {
		PayloadBytes.WithLabelValues("sent").Add(float64(len(payload)))
	}
	return nil
}

// Ping sends a heartbeat and records the time so the Pong can be timed.
func (c *Conn) Ping() error {
	c.pingLock.Lock()
	c.pingSent = time.Now()
	c.pingLock.Unlock()
	return c.Send(envelope.Ping(), nil)
}

// Serve runs Step until the stream ends, an error occurs or ctx is
// cancelled.  A clean end of stream returns nil.  Cancelling ctx
// interrupts a blocked read when the stream supports deadlines.
func (c *Conn) Serve(ctx context.Context) error {
	if c.dl != nil {
		stop := context.AfterFunc(ctx, c.interrupt)
		defer stop()
	}

	for {
		if err := ctx.Err(); err != nil {
			c.close()
			return err
		}

		_, err := c.Step()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
