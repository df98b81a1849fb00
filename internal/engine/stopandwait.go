package engine

import (
	"time"

	"udpft/pkg/wire"
)

// StopAndWait implements Engine with a single outstanding unacknowledged
// frame and a binary sequence number, grounded on spec.md's description
// of the classic alternating-bit protocol.
type StopAndWait struct {
	timeout    time.Duration
	maxRetries int

	// send side
	chunks     [][]byte
	sendSeq    uint32 // 0 or 1
	sendIdx    int
	lastSent   wire.Packet
	lastSentAt time.Time
	retries    int
	sendDone   bool

	// receive side
	expectedSeq uint32 // 0 or 1
}

// NewStopAndWait builds a StopAndWait engine with the given per-frame
// retransmit timer and retry budget.
func NewStopAndWait(timeout time.Duration, maxRetries int) *StopAndWait {
	return &StopAndWait{timeout: timeout, maxRetries: maxRetries}
}

// StartSend begins sending chunks starting at sequence 0.
func (s *StopAndWait) StartSend(chunks [][]byte) {
	s.chunks = chunks
	s.sendSeq = 0
	s.sendIdx = 0
	s.retries = 0
	s.lastSentAt = time.Time{}
	s.sendDone = len(chunks) == 0
	if !s.sendDone {
		s.lastSent = wire.Data(s.sendSeq, chunks[0])
	}
}

// Poll sends the first frame on the first call, then retransmits lastSent
// whenever timeout has elapsed since it was last sent.
func (s *StopAndWait) Poll(now time.Time) ([]wire.Packet, bool) {
	if s.sendDone {
		return nil, true
	}
	if s.lastSentAt.IsZero() {
		s.lastSentAt = now
		return []wire.Packet{s.lastSent}, false
	}
	if now.Sub(s.lastSentAt) >= s.timeout {
		s.retries++
		s.lastSentAt = now
		return []wire.Packet{s.lastSent}, false
	}
	return nil, false
}

// OnAck advances the sender to the next chunk once the outstanding
// sequence is acknowledged; anything else (duplicate or stale ACK) is
// ignored.
func (s *StopAndWait) OnAck(pkt wire.Packet, now time.Time) []wire.Packet {
	if s.sendDone || !pkt.Flags.Has(wire.ACK) || pkt.Ack != s.sendSeq {
		return nil
	}
	s.sendSeq ^= 1
	s.retries = 0
	s.sendIdx++
	if s.sendIdx >= len(s.chunks) {
		s.sendDone = true
		return nil
	}
	next := wire.Data(s.sendSeq, s.chunks[s.sendIdx])
	s.lastSent = next
	s.lastSentAt = now
	return []wire.Packet{next}
}

// OnData accepts a DATA frame whose sequence matches expectedSeq,
// delivering its payload and flipping the expected bit. A frame carrying
// the previous sequence is a replay of an already-delivered frame: it is
// re-acked (to heal a lost ACK) but not redelivered.
func (s *StopAndWait) OnData(pkt wire.Packet) (wire.Packet, [][]byte) {
	if !pkt.Flags.Has(wire.DATA) {
		return wire.Packet{}, nil
	}
	if pkt.Seq == s.expectedSeq {
		ack := wire.Ack(pkt.Seq)
		s.expectedSeq ^= 1
		return ack, [][]byte{pkt.Payload}
	}
	return wire.Ack(s.expectedSeq ^ 1), nil
}

// Exhausted reports whether the outstanding frame has used up its retry
// budget.
func (s *StopAndWait) Exhausted() bool { return s.retries > s.maxRetries }
