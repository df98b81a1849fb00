package engine

import (
	"time"

	"udpft/pkg/wire"
)

// srSlot tracks one outstanding send in the sliding window.
type srSlot struct {
	pkt     wire.Packet
	sentAt  time.Time
	retries int
	acked   bool
	dupAcks int
}

// dupAckThreshold is how many ACKs for an already-acked slot trigger an
// immediate fast retransmit instead of waiting for its timer.
const dupAckThreshold = 3

// SelectiveRepeat implements Engine with a sliding window of
// independently-timed outstanding frames and an out-of-order receive
// buffer, grounded on spec.md's description of the protocol and on
// samsamfire-gocanopen's block-transfer sequence/timeout bookkeeping.
type SelectiveRepeat struct {
	window     int
	timeout    time.Duration
	maxRetries int

	// send side
	chunks      [][]byte
	sendBaseSeq uint32 // sequence of chunks[0]
	base        uint32 // oldest unacknowledged sequence
	next        uint32 // next sequence to assign to a new chunk
	slots       map[uint32]*srSlot
	sendDone    bool

	// receive side
	rcvBase uint32
	recvBuf map[uint32]wire.Packet
}

// NewSelectiveRepeat builds a SelectiveRepeat engine. startSeq is the
// first sequence number both sides use for DATA frames; per spec.md this
// is 2, reserving 0 and 1 for the handshake and operation negotiation.
func NewSelectiveRepeat(window int, timeout time.Duration, maxRetries int, startSeq uint32) *SelectiveRepeat {
	return &SelectiveRepeat{
		window:     window,
		timeout:    timeout,
		maxRetries: maxRetries,
		base:       startSeq,
		next:       startSeq,
		rcvBase:    startSeq,
		slots:      make(map[uint32]*srSlot),
		recvBuf:    make(map[uint32]wire.Packet),
	}
}

// StartSend begins sending chunks starting at the engine's base sequence.
func (r *SelectiveRepeat) StartSend(chunks [][]byte) {
	r.chunks = chunks
	r.sendBaseSeq = r.base
	r.sendDone = len(chunks) == 0
}

func (r *SelectiveRepeat) chunkIndex(seq uint32) int { return int(seq - r.sendBaseSeq) }

// Poll stages new sends while the window has room and retransmits any
// slot whose timer has expired.
func (r *SelectiveRepeat) Poll(now time.Time) ([]wire.Packet, bool) {
	if r.sendDone {
		return nil, true
	}
	var out []wire.Packet
	for len(r.slots) < r.window {
		idx := r.chunkIndex(r.next)
		if idx >= len(r.chunks) {
			break
		}
		pkt := wire.Data(r.next, r.chunks[idx])
		r.slots[r.next] = &srSlot{pkt: pkt, sentAt: now}
		out = append(out, pkt)
		r.next++
	}
	for _, slot := range r.slots {
		if slot.acked {
			continue
		}
		if now.Sub(slot.sentAt) >= r.timeout {
			slot.retries++
			slot.sentAt = now
			slot.dupAcks = 0
			out = append(out, slot.pkt)
		}
	}
	if r.base == r.next && r.chunkIndex(r.next) >= len(r.chunks) {
		r.sendDone = true
		return out, true
	}
	return out, false
}

// OnAck marks a slot acknowledged and slides the window base forward
// over any run of now-contiguous acked slots. A repeated ACK for a slot
// already acked counts toward a fast retransmit of that slot once
// dupAckThreshold is reached, covering the case where the underlying
// network has duplicated the ACK datagram.
func (r *SelectiveRepeat) OnAck(pkt wire.Packet, now time.Time) []wire.Packet {
	if r.sendDone || !pkt.Flags.Has(wire.ACK) {
		return nil
	}
	slot, ok := r.slots[pkt.Ack]
	if !ok {
		return nil
	}
	if slot.acked {
		slot.dupAcks++
		if slot.dupAcks >= dupAckThreshold {
			slot.dupAcks = 0
			slot.retries++
			slot.sentAt = now
			return []wire.Packet{slot.pkt}
		}
		return nil
	}
	slot.acked = true
	for {
		s, ok := r.slots[r.base]
		if !ok || !s.acked {
			break
		}
		delete(r.slots, r.base)
		r.base++
	}
	if r.base == r.next && r.chunkIndex(r.next) >= len(r.chunks) {
		r.sendDone = true
	}
	return nil
}

// OnData buffers an in-window DATA frame and flushes every payload now
// contiguous from the receive base, sliding it forward. A frame behind
// the receive base was already delivered; it is re-acked to heal a lost
// ACK but not redelivered. A frame beyond the window is dropped.
func (r *SelectiveRepeat) OnData(pkt wire.Packet) (wire.Packet, [][]byte) {
	if !pkt.Flags.Has(wire.DATA) {
		return wire.Packet{}, nil
	}
	diff := int32(pkt.Seq - r.rcvBase)
	switch {
	case diff >= 0 && diff < int32(r.window):
		ack := wire.Ack(pkt.Seq)
		if _, exists := r.recvBuf[pkt.Seq]; !exists {
			r.recvBuf[pkt.Seq] = pkt
		}
		var delivered [][]byte
		for {
			p, ok := r.recvBuf[r.rcvBase]
			if !ok {
				break
			}
			delivered = append(delivered, p.Payload)
			delete(r.recvBuf, r.rcvBase)
			r.rcvBase++
		}
		return ack, delivered
	case diff < 0:
		return wire.Ack(pkt.Seq), nil
	default:
		return wire.Packet{}, nil
	}
}

// Exhausted reports whether any outstanding slot has used up its retry
// budget.
func (r *SelectiveRepeat) Exhausted() bool {
	for _, s := range r.slots {
		if !s.acked && s.retries > r.maxRetries {
			return true
		}
	}
	return false
}

// Idle reports whether the send window is empty and the base has caught
// up with next, meaning every chunk handed to StartSend has been
// acknowledged.
func (r *SelectiveRepeat) Idle() bool { return len(r.slots) == 0 && r.base == r.next }
