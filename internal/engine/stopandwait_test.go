package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"udpft/pkg/wire"
)

func TestStopAndWaitCleanUpload(t *testing.T) {
	chunks := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	sender := NewStopAndWait(300*time.Millisecond, 60)
	receiver := NewStopAndWait(300*time.Millisecond, 60)
	sender.StartSend(chunks)

	now := time.Now()
	var delivered [][]byte
	frames, done := sender.Poll(now)
	require.False(t, done)
	for i := 0; i < len(chunks); i++ {
		require.Len(t, frames, 1)

		ack, payloads := receiver.OnData(frames[0])
		require.True(t, ack.Flags.Has(wire.ACK))
		delivered = append(delivered, payloads...)

		// OnAck hands back the next chunk to send right away.
		frames = sender.OnAck(ack, now)
	}
	require.Empty(t, frames)
	_, done = sender.Poll(now)
	require.True(t, done)
	require.Equal(t, chunks, delivered)
}

func TestStopAndWaitRetransmitsAfterTimeout(t *testing.T) {
	sender := NewStopAndWait(10*time.Millisecond, 5)
	sender.StartSend([][]byte{[]byte("payload")})

	now := time.Now()
	first, done := sender.Poll(now)
	require.False(t, done)
	require.Len(t, first, 1)

	// No time elapsed: nothing to send yet.
	again, _ := sender.Poll(now)
	require.Nil(t, again)

	later := now.Add(20 * time.Millisecond)
	retransmit, _ := sender.Poll(later)
	require.Len(t, retransmit, 1)
	require.Equal(t, first[0].Seq, retransmit[0].Seq)
	require.False(t, sender.Exhausted())
}

func TestStopAndWaitExhaustsRetryBudget(t *testing.T) {
	sender := NewStopAndWait(time.Millisecond, 2)
	sender.StartSend([][]byte{[]byte("x")})

	now := time.Now()
	sender.Poll(now)
	for i := 0; i < 3; i++ {
		now = now.Add(2 * time.Millisecond)
		sender.Poll(now)
	}
	require.True(t, sender.Exhausted())
}

func TestStopAndWaitReceiverHealsLostAck(t *testing.T) {
	receiver := NewStopAndWait(300*time.Millisecond, 60)

	first := wire.Data(0, []byte("a"))
	ack1, delivered1 := receiver.OnData(first)
	require.Equal(t, uint32(0), ack1.Ack)
	require.Equal(t, [][]byte{[]byte("a")}, delivered1)

	// Sender never saw ack1 and retransmits the same frame; receiver
	// must re-ack it without redelivering the payload.
	ack2, delivered2 := receiver.OnData(first)
	require.Equal(t, uint32(0), ack2.Ack)
	require.Nil(t, delivered2)
}

func TestStopAndWaitIgnoresMismatchedAck(t *testing.T) {
	sender := NewStopAndWait(300*time.Millisecond, 60)
	sender.StartSend([][]byte{[]byte("a"), []byte("b")})
	now := time.Now()
	sender.Poll(now)

	next := sender.OnAck(wire.Ack(1), now) // wrong seq, should be ignored
	require.Nil(t, next)
}
