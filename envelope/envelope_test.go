package envelope

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/holepunch/holepunch/util"
	"github.com/kisom/goutils/testio"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	tests := []struct {
		env  Envelope
		want []byte
	}{
		{Message(0), []byte{0x00, 0x00}},
		{Message(5), []byte{0x00, 0x05}},
		{Message(300), []byte{0x00, 0xac, 0x02}},
		{Ping(), []byte{0x01}},
		{Pong(), []byte{0x02}},
	}
	for _, test := range tests {
		t.Run(test.env.String(), func(t *testing.T) {
			got, err := Encode(test.env)
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	envs := []Envelope{
		Ping(), Pong(),
		Message(0), Message(1), Message(127), Message(128),
		Message(1 << 32), Message(math.MaxUint64),
	}
	for _, e := range envs {
		t.Run(e.String(), func(t *testing.T) {
			var payload []byte
			if e.Kind == KindMessage && e.Length < 1024 {
				payload = bytes.Repeat([]byte{'x'}, int(e.Length))
			}
			header, err := Encode(e)
			require.NoError(t, err)
			stream := bytes.NewBuffer(append(header, payload...))

			got, err := Decode(stream)
			require.NoError(t, err)
			require.Equal(t, e, got)
			require.Equal(t, nilIfEmpty(payload), nilIfEmpty(stream.Bytes()), "decode consumed payload bytes")
		})
	}
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// onlyReader hides any io.ByteReader implementation.
type onlyReader struct{ r io.Reader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestDecodeLeavesPayload(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, Write(&stream, Message(5), []byte("hello")))
	require.NoError(t, Write(&stream, Ping(), nil))

	r := onlyReader{&stream}
	e, err := Decode(r)
	require.NoError(t, err)
	require.Equal(t, Message(5), e)

	payload := make([]byte, 5)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))

	e, err = Decode(r)
	require.NoError(t, err)
	require.Equal(t, Ping(), e)

	_, err = Decode(r)
	require.Equal(t, io.EOF, err)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"unknown discriminant", []byte{0x03}},
		{"large discriminant", []byte{0xff, 0x01}},
		{"truncated length", []byte{0x00}},
		{"truncated varint", []byte{0x00, 0x80}},
		{"continuation in discriminant", []byte{0x80}},
		{"multi-byte ping", []byte{0x81, 0x00}},
		{"multi-byte message", []byte{0x80, 0x00, 0x02, 'h', 'i'}},
		{"overlong length", []byte{0x00, 0x85, 0x00}},
		{"overflow", append([]byte{0x00}, bytes.Repeat([]byte{0xff}, 10)...)},
		{"overflow in last byte", append(append([]byte{0x00}, bytes.Repeat([]byte{0xff}, 9)...), 0x02)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode(onlyReader{bytes.NewReader(test.data)})
			require.Error(t, err)
			require.True(t, util.IsKind(err, util.KindProtocol), "got %v", err)
		})
	}
}

func TestDecodeUnknownDiscriminantConsumesOnlyHeader(t *testing.T) {
	stream := bytes.NewBuffer([]byte{0x07, 'a', 'b'})
	_, err := Decode(onlyReader{stream})
	require.True(t, util.IsKind(err, util.KindProtocol))
	require.Equal(t, "ab", stream.String())
}

func TestDecodeHighBitDiscriminantConsumesOneByte(t *testing.T) {
	stream := bytes.NewBuffer([]byte{0x81, 0x00})
	_, err := Decode(onlyReader{stream})
	require.True(t, util.IsKind(err, util.KindProtocol), "got %v", err)
	require.Equal(t, []byte{0x00}, stream.Bytes())
}

func TestDecodeEmptyStream(t *testing.T) {
	_, err := Decode(onlyReader{bytes.NewReader(nil)})
	require.Equal(t, io.EOF, err)
}

func TestDecodeExhaustedReader(t *testing.T) {
	brw := testio.NewBrokenReadWriter(0, 0)
	_, err := Decode(onlyReader{brw})
	require.Equal(t, io.EOF, err)
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode(Envelope{Kind: 9})
	require.True(t, util.IsKind(err, util.KindProtocol))
	_, err = Encode(Envelope{Kind: KindPing, Length: 3})
	require.True(t, util.IsKind(err, util.KindProtocol))
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Message(3), []byte("abc")))
	require.Equal(t, []byte{0x00, 0x03, 'a', 'b', 'c'}, buf.Bytes())

	err := Write(&buf, Message(4), []byte("abc"))
	require.True(t, util.IsKind(err, util.KindProtocol))
	err = Write(&buf, Pong(), []byte("abc"))
	require.True(t, util.IsKind(err, util.KindProtocol))

	err = Write(testio.NewBrokenWriter(1), Message(3), []byte("abc"))
	require.True(t, util.IsKind(err, util.KindIO))
}
