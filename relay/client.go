package relay

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/holepunch/holepunch/envelope"
	"github.com/holepunch/holepunch/util"
	"github.com/rs/zerolog/log"
)

// DefaultChunkSize is the largest Message the client sends when
// streaming.
const DefaultChunkSize = 32 << 10

// ClientOptions tunes a Client.
type ClientOptions struct {
	Options

	// Heartbeat is the interval between Pings while streaming; zero
	// disables heartbeats.
	Heartbeat time.Duration

	// ChunkSize bounds the payload of each Message sent by Stream.
	ChunkSize int

	// Replies receives payloads of Messages sent back by the peer.  Nil
	// discards them.
	Replies io.Writer
}

// Client is the connect side of the relay.  Replies are read by a
// goroutine started when the client is created.
type Client struct {
	conn   *Conn
	closer io.Closer
	opts   ClientOptions

	pongs chan time.Duration
	done  chan struct{}
	err   error
}

// Dial connects to address over TCP.
func Dial(ctx context.Context, address string, opts ClientOptions) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, util.Wrapf(util.KindIO, err, "connecting to %s", address)
	}
	return NewClient(nc, opts), nil
}

// NewClient runs the client over an established stream.
func NewClient(rwc io.ReadWriteCloser, opts ClientOptions) *Client {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	c := &Client{
		conn:   NewConn(rwc, opts.Replies, opts.Options),
		closer: rwc,
		opts:   opts,
		pongs:  make(chan time.Duration, 1),
		done:   make(chan struct{}),
	}
	go c.read()
	return c
}

func (c *Client) read() {
	defer close(c.done)
	for {
		action, err := c.conn.Step()
		if err != nil {
			c.err = err
			return
		}
		if action.Envelope.Kind == envelope.KindPong {
			select {
			case c.pongs <- action.RTT:
			default:
			}
		}
	}
}

// closed returns the reason the read side stopped.
func (c *Client) closed() error {
	if c.err == nil || c.err == io.EOF {
		return util.Errorf(util.KindIO, "connection closed by peer")
	}
	return c.err
}

// Ping sends one Ping and waits for its Pong, returning the round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	for drained := false; !drained; {
		select {
		case <-c.pongs:
		default:
			drained = true
		}
	}

	if err := c.conn.Ping(); err != nil {
		return 0, err
	}

	select {
	case rtt := <-c.pongs:
		return rtt, nil
	case <-c.done:
		return 0, c.closed()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				log.Warn().Err(err).Str("conn", c.conn.ID).Msg("relay: heartbeat failed")
				return
			}
		}
	}
}

// Stream sends r as a sequence of Messages of at most ChunkSize bytes
// until r is exhausted, sending heartbeats meanwhile.  It returns the
// number of payload bytes sent.
func (c *Client) Stream(ctx context.Context, r io.Reader) (int64, error) {
	if c.opts.Heartbeat > 0 {
		hbctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go c.heartbeat(hbctx)
	}

	var total int64
	buf := make([]byte, c.opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		select {
		case <-c.done:
			return total, c.closed()
		default:
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			if err := c.conn.Send(envelope.Message(uint64(n)), buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, util.Wrapf(util.KindIO, rerr, "reading input")
		}
	}
}

// Close closes the stream and waits for the reader to stop.
func (c *Client) Close() error {
	err := c.closer.Close()
	<-c.done
	return err
}
