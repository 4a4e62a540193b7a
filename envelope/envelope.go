// Package envelope implements the framing header exchanged between
// holepunch peers.
//
// An envelope is a discriminant followed, for Message only, by the number
// of payload bytes that come straight after the header.  Both fields are
// unsigned LEB128 varints, the encoding BARE uses for union tags and
// uint, so all three defined discriminants occupy one byte:
//
//	Message  0x00 <varint length> <length payload bytes>
//	Ping     0x01
//	Pong     0x02
//
// The payload is never part of the envelope; callers stream it.
package envelope

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/holepunch/holepunch/util"
	"github.com/pkg/errors"
)

// Kind is the envelope discriminant.
type Kind uint8

const (
	// KindMessage announces Length payload bytes.
	KindMessage Kind = 0
	// KindPing is a heartbeat request.
	KindPing Kind = 1
	// KindPong acknowledges a Ping.
	KindPong Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a defined discriminant.
func (k Kind) Valid() bool {
	return k <= KindPong
}

// MaxHeaderLen is the longest possible encoded header.
const MaxHeaderLen = 1 + binary.MaxVarintLen64

// Envelope is one protocol header.  Length is only meaningful for Message.
type Envelope struct {
	Kind   Kind
	Length uint64
}

// Ping returns a Ping envelope.
func Ping() Envelope { return Envelope{Kind: KindPing} }

// Pong returns a Pong envelope.
func Pong() Envelope { return Envelope{Kind: KindPong} }

// Message returns a Message envelope announcing n payload bytes.
func Message(n uint64) Envelope { return Envelope{Kind: KindMessage, Length: n} }

func (e Envelope) String() string {
	if e.Kind == KindMessage {
		return fmt.Sprintf("message(%d)", e.Length)
	}
	return e.Kind.String()
}

// Encode returns the header bytes for e.
func Encode(e Envelope) ([]byte, error) {
	return AppendEncode(make([]byte, 0, MaxHeaderLen), e)
}

// AppendEncode appends the header bytes for e to dst.
func AppendEncode(dst []byte, e Envelope) ([]byte, error) {
	if !e.Kind.Valid() {
		return dst, util.Errorf(util.KindProtocol, "cannot encode unknown envelope discriminant %d", uint8(e.Kind))
	}
	if e.Kind != KindMessage && e.Length != 0 {
		return dst, util.Errorf(util.KindProtocol, "%s envelope cannot carry a length", e.Kind)
	}
	dst = binary.AppendUvarint(dst, uint64(e.Kind))
	if e.Kind == KindMessage {
		dst = binary.AppendUvarint(dst, e.Length)
	}
	return dst, nil
}

// byteReader reads one byte per call from the underlying reader, so that
// decoding never pulls payload bytes off the stream.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	for {
		n, err := br.r.Read(br.buf[:])
		if n == 1 {
			return br.buf[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Decode reads exactly one header from r.  It returns io.EOF if r ends
// before the first header byte, and a protocol error if r ends part way
// through a header or the header is malformed.  Payload bytes are left on
// the stream; if r is an io.ByteReader such as a bufio.Reader the payload
// must be read from r itself.
func Decode(r io.Reader) (Envelope, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}
	return decode(br)
}

func decode(br io.ByteReader) (Envelope, error) {
	// Every defined discriminant is a single varint byte, so the tag is
	// read as one byte and never as a continuation.
	tag, err := br.ReadByte()
	if err != nil {
		if err == io.EOF {
			return Envelope{}, io.EOF
		}
		return Envelope{}, readError(err)
	}
	if tag > byte(KindPong) {
		return Envelope{}, util.Errorf(util.KindProtocol, "unknown envelope discriminant 0x%02x", tag)
	}
	e := Envelope{Kind: Kind(tag)}
	if e.Kind != KindMessage {
		return e, nil
	}
	if e.Length, err = readUvarint(br); err != nil {
		return Envelope{}, errors.WithMessage(err, "reading message length")
	}
	return e, nil
}

func readError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return util.Wrapf(util.KindProtocol, io.ErrUnexpectedEOF, "truncated envelope header")
	}
	return util.Wrap(util.KindIO, err)
}

// readUvarint is binary.ReadUvarint with the error classes holepunch
// needs.  Overlong encodings are rejected so every length has exactly one
// wire form.
func readUvarint(br io.ByteReader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, readError(err)
		}
		if b < 0x80 {
			if i == binary.MaxVarintLen64-1 && b > 1 {
				return 0, util.Errorf(util.KindProtocol, "envelope varint overflows 64 bits")
			}
			if i > 0 && b == 0 {
				return 0, util.Errorf(util.KindProtocol, "envelope varint is not minimally encoded")
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, util.Errorf(util.KindProtocol, "envelope varint overflows 64 bits")
}

// Write writes e followed by payload to w in a single call.  For Message
// the payload length must match e.Length; other kinds carry no payload.
func Write(w io.Writer, e Envelope, payload []byte) error {
	if e.Kind == KindMessage && uint64(len(payload)) != e.Length {
		return util.Errorf(util.KindProtocol, "message announces %d bytes but payload has %d", e.Length, len(payload))
	}
	if e.Kind != KindMessage && len(payload) != 0 {
		return util.Errorf(util.KindProtocol, "%s envelope cannot carry a payload", e.Kind)
	}
	buf, err := AppendEncode(make([]byte, 0, MaxHeaderLen+len(payload)), e)
	if err != nil {
		return err
	}
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return util.Wrapf(util.KindIO, err, "writing %s", e)
	}
	return nil
}
