package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		Syn(),
		SynAck(),
		Data(0, []byte("hi")),
		Data(12345, make([]byte, MaxPayload)),
		Ack(7),
		Fin(100),
		FinAck(101, 100),
		Err(1, ErrFileNotFound, "arquivo nao encontrado"),
	}
	for _, want := range cases {
		encoded := Encode(want)
		got, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, want.Seq, got.Seq)
		require.Equal(t, want.Ack, got.Ack)
		require.Equal(t, want.Flags, got.Flags)
		require.Equal(t, want.Payload, got.Payload)
	}
}

func TestDecodeRejectsCorruptedPayload(t *testing.T) {
	encoded := Encode(Data(0, []byte("hello world")))
	corrupted := append([]byte(nil), encoded...)
	corrupted[HeaderSize] ^= 0x01 // flip one payload bit

	_, err := Decode(corrupted)
	require.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	encoded := Encode(Data(0, []byte("hello")))
	truncated := encoded[:len(encoded)-1]
	_, err := Decode(truncated)
	require.ErrorIs(t, err, ErrInvalidFrame)
}

func TestFlagsString(t *testing.T) {
	require.Equal(t, "SYN|ACK", (SYN | ACK).String())
	require.Equal(t, "FIN|ACK", (FIN | ACK).String())
	require.Equal(t, "NONE", Flags(0).String())
}

func TestErrPayloadRoundTrip(t *testing.T) {
	pkt := Err(42, ErrWrite, "disco cheio")
	code, msg, err := DecodeErr(pkt)
	require.NoError(t, err)
	require.Equal(t, ErrWrite, code)
	require.Equal(t, "disco cheio", msg)
}
