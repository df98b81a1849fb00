package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"udpft/pkg/wire"
)

func TestSelectiveRepeatCleanUploadDrainsWindow(t *testing.T) {
	chunks := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
	sender := NewSelectiveRepeat(4, 5*time.Second, 12, 2)
	receiver := NewSelectiveRepeat(4, 5*time.Second, 12, 2)
	sender.StartSend(chunks)

	now := time.Now()
	var delivered [][]byte
	for {
		frames, done := sender.Poll(now)
		for _, f := range frames {
			ack, payloads := receiver.OnData(f)
			delivered = append(delivered, payloads...)
			sender.OnAck(ack, now)
		}
		if done {
			break
		}
		if len(frames) == 0 {
			now = now.Add(6 * time.Second)
		}
	}
	require.Equal(t, chunks, delivered)
	require.True(t, sender.Idle())
}

func TestSelectiveRepeatOutOfOrderDelivery(t *testing.T) {
	receiver := NewSelectiveRepeat(4, 5*time.Second, 12, 2)

	// Frame 2 (the window base) is lost in transit; 3, 4, 5 arrive first.
	_, d3 := receiver.OnData(wire.Data(3, []byte("three")))
	require.Nil(t, d3)
	_, d4 := receiver.OnData(wire.Data(4, []byte("four")))
	require.Nil(t, d4)
	_, d5 := receiver.OnData(wire.Data(5, []byte("five")))
	require.Nil(t, d5)

	// The missing base frame now arrives, flushing the buffered run in order.
	_, d2 := receiver.OnData(wire.Data(2, []byte("two")))
	require.Equal(t, [][]byte{[]byte("two"), []byte("three"), []byte("four"), []byte("five")}, d2)
}

func TestSelectiveRepeatHealsLostAckBelowBase(t *testing.T) {
	receiver := NewSelectiveRepeat(4, 5*time.Second, 12, 2)
	receiver.OnData(wire.Data(2, []byte("two")))

	ack, delivered := receiver.OnData(wire.Data(2, []byte("two")))
	require.True(t, ack.Flags.Has(wire.ACK))
	require.Equal(t, uint32(2), ack.Ack)
	require.Nil(t, delivered)
}

func TestSelectiveRepeatDropsFrameBeyondWindow(t *testing.T) {
	receiver := NewSelectiveRepeat(4, 5*time.Second, 12, 2)
	ack, delivered := receiver.OnData(wire.Data(10, []byte("far")))
	require.Equal(t, wire.Flags(0), ack.Flags)
	require.Nil(t, delivered)
}

func TestSelectiveRepeatFastRetransmitOnDuplicateAcks(t *testing.T) {
	sender := NewSelectiveRepeat(4, 5*time.Second, 12, 2)
	sender.StartSend([][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	now := time.Now()
	sender.Poll(now)

	ack := wire.Ack(3)
	require.Nil(t, sender.OnAck(ack, now)) // original ack, marks the slot acked
	require.Nil(t, sender.OnAck(ack, now)) // 1st duplicate
	require.Nil(t, sender.OnAck(ack, now)) // 2nd duplicate
	retransmit := sender.OnAck(ack, now)   // 3rd duplicate: fast retransmit
	require.Len(t, retransmit, 1)
	require.Equal(t, uint32(3), retransmit[0].Seq)
}

func TestSelectiveRepeatExhaustsRetryBudget(t *testing.T) {
	sender := NewSelectiveRepeat(2, time.Millisecond, 1, 2)
	sender.StartSend([][]byte{[]byte("a")})
	now := time.Now()
	sender.Poll(now)
	for i := 0; i < 3; i++ {
		now = now.Add(2 * time.Millisecond)
		sender.Poll(now)
	}
	require.True(t, sender.Exhausted())
}
