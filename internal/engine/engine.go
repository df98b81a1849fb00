// Package engine implements the two interchangeable reliable-data-transfer
// variants — StopAndWait and SelectiveRepeat — behind one shared
// interface, so the session state machine can drive either without
// knowing which one it holds.
//
// Grounded on the teacher's duck-typed split between
// internal/clientudp.Config/Callbacks (retry bookkeeping, per-event
// callbacks) and internal/serverudp's per-peer retransmission loop,
// generalized into the single interface spec.md's design notes call
// for ("one tagged variant with two cases"); the per-slot
// retries/timestamp/acked bookkeeping in SelectiveRepeat is grounded on
// samsamfire-gocanopen's SDO block-transfer fields
// (blockSequenceNb/blockSize/timeoutTimerBlock in sdo_server.go).
package engine

import (
	"time"

	"udpft/pkg/wire"
)

// Engine is implemented by both StopAndWait and SelectiveRepeat. A
// session holds exactly one Engine value behind this interface and
// never branches on which variant it is.
//
// Neither implementation locks its own state: a caller driving an
// Engine from more than one goroutine (the server dispatcher's worker
// pool and a session's background sender both can) must serialize
// those calls itself. The dispatcher does this with Session.Lock.
type Engine interface {
	// StartSend begins driving an outbound transfer of chunks (in
	// order). Poll/OnAck then drive it to completion.
	StartSend(chunks [][]byte)
	// Poll lets the engine act on the passage of time: staging newly
	// eligible sends and retransmitting anything whose timer expired.
	// done is true once every chunk has been acknowledged.
	Poll(now time.Time) (frames []wire.Packet, done bool)
	// OnAck processes an inbound ACK during an outbound transfer,
	// returning any frames that must be sent immediately as a result
	// (the next chunk for StopAndWait, a fast retransmit for
	// SelectiveRepeat).
	OnAck(pkt wire.Packet, now time.Time) []wire.Packet
	// OnData processes an inbound DATA frame during an inbound
	// transfer, returning the ack to send (Flags==0 means "send
	// nothing") and any payload chunks now deliverable in order.
	OnData(pkt wire.Packet) (ack wire.Packet, delivered [][]byte)
	// Exhausted reports whether a retry budget ran out somewhere in
	// the engine, meaning the caller should abort the transfer.
	Exhausted() bool
}

// Config parameterizes engine construction; unused fields for a given
// protocol are ignored (StopAndWait ignores WindowSize and StartSeq).
type Config struct {
	Protocol   wire.Protocol
	WindowSize int
	Timeout    time.Duration
	MaxRetries int
	// StartSeq is the first data sequence number the engine will use,
	// per spec.md's guardrail that SelectiveRepeat DATA sequences start
	// at 2 (the first two sequence numbers belong to the handshake and
	// operation packet). StopAndWait always starts at 0 regardless.
	StartSeq uint32
}

// New constructs the engine for cfg.Protocol.
func New(cfg Config) Engine {
	switch cfg.Protocol {
	case wire.SelectiveRepeat:
		return NewSelectiveRepeat(cfg.WindowSize, cfg.Timeout, cfg.MaxRetries, cfg.StartSeq)
	default:
		return NewStopAndWait(cfg.Timeout, cfg.MaxRetries)
	}
}
