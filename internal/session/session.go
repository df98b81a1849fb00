// Package session implements the per-peer session state machine and the
// registry that maps a UDP peer address to its in-flight session.
//
// Grounded on the teacher's internal/serverudp.go activeTransfers map
// (client address as key, per-client state behind a mutex) generalized
// from a single implicit "request in flight" flag into the explicit
// CLOSED/SYN_RECEIVED/OP_NEGOTIATED/DATA/CLOSING states spec.md
// requires; the state-as-enum-with-guarded-transitions idiom itself is
// grounded on samsamfire-gocanopen's SDOState switch inside its SDO
// server (internal/sdo/server.go).
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"udpft/internal/engine"
	"udpft/internal/logging"
	"udpft/internal/metrics"
	"udpft/internal/storage"
	"udpft/pkg/wire"
)

// State is one stage of a session's lifecycle.
type State int

const (
	StateClosed State = iota
	StateSynReceived
	StateOpNegotiated
	StateData
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateOpNegotiated:
		return "OP_NEGOTIATED"
	case StateData:
		return "DATA"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// TransitionError reports an inbound event that doesn't fit the
// session's current state, e.g. an operation packet before the
// handshake completed.
type TransitionError struct {
	From  State
	Event string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("session: unexpected %s while in state %s", e.Event, e.From)
}

// Session tracks one peer's handshake, negotiated operation, and data
// engine. Its field accessors take the session's own field lock, but
// the Engine they hand out is not synchronized: callers driving it hold
// Lock/Unlock around the whole operation. The registry's lock only ever
// guards insertion and removal from the map.
type Session struct {
	ID   uuid.UUID
	Peer *net.UDPAddr

	// turn serializes an entire frame-handler call or sender-poll tick
	// for this session, so two dispatcher goroutines never call into
	// the same session's engine concurrently. mu below only ever
	// protects one field access at a time; turn is the coarser lock
	// the dispatcher holds across a whole operation.
	turn sync.Mutex

	mu           sync.Mutex
	state        State
	operation    wire.Operation
	filename     string
	protocol     wire.Protocol
	eng          engine.Engine
	lastActivity time.Time
	upload       *storage.UploadFile
	pendingDown  [][]byte

	Metrics *metrics.TransferMetrics
	log     *logging.Entry
}

// New creates a fresh session for peer in state CLOSED.
func New(peer *net.UDPAddr) *Session {
	id := uuid.New()
	return &Session{
		ID:           id,
		Peer:         peer,
		state:        StateClosed,
		lastActivity: time.Now(),
		Metrics:      metrics.NewTransferMetrics(),
		log:          logging.ForSession(id.String(), peer.String()),
	}
}

// Lock acquires this session's handler-serialization lock. The
// dispatcher holds it for the full duration of processing one inbound
// frame, or one DOWNLOAD sender poll tick, before touching the
// session's engine.
func (s *Session) Lock() { s.turn.Lock() }

// Unlock releases the lock acquired by Lock.
func (s *Session) Unlock() { s.turn.Unlock() }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Operation, Filename and Protocol report the negotiated transfer, valid
// from OP_NEGOTIATED onward.
func (s *Session) Operation() wire.Operation { s.mu.Lock(); defer s.mu.Unlock(); return s.operation }
func (s *Session) Filename() string         { s.mu.Lock(); defer s.mu.Unlock(); return s.filename }
func (s *Session) Protocol() wire.Protocol  { s.mu.Lock(); defer s.mu.Unlock(); return s.protocol }

// Engine returns the protocol engine driving this session's transfer,
// or nil before OP_NEGOTIATED.
func (s *Session) Engine() engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng
}

// Log returns this session's contextual logger.
func (s *Session) Log() *logging.Entry { return s.log }

// SetUpload attaches the temp file an UPLOAD writes its chunks into.
func (s *Session) SetUpload(up *storage.UploadFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload = up
}

// Upload returns the session's in-progress upload file, or nil outside
// an UPLOAD transfer.
func (s *Session) Upload() *storage.UploadFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upload
}

// SetPendingDownload stages a DOWNLOAD's chunked file until the
// client's confirming ACK of the operation packet arrives; spec.md
// requires that ACK to be what actually starts the data stream.
func (s *Session) SetPendingDownload(chunks [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDown = chunks
}

// TakePendingDownload returns and clears the staged chunks, or nil if
// none are staged (already taken, or this isn't a DOWNLOAD session).
func (s *Session) TakePendingDownload() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := s.pendingDown
	s.pendingDown = nil
	return chunks
}

// Touch refreshes the session's last-activity timestamp, called on
// every inbound frame so the janitor doesn't reap a live peer.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// IdleFor reports how long it has been since the session last saw
// activity, as of now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// OnSyn accepts the handshake SYN, moving CLOSED -> SYN_RECEIVED.
func (s *Session) OnSyn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		return TransitionError{From: s.state, Event: "SYN"}
	}
	s.state = StateSynReceived
	return nil
}

// OnOperation negotiates the transfer's operation, filename and
// protocol, building the engine that will drive the DATA phase, moving
// SYN_RECEIVED -> OP_NEGOTIATED.
func (s *Session) OnOperation(op wire.Operation, filename string, proto wire.Protocol, cfg engine.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSynReceived {
		return TransitionError{From: s.state, Event: "operation"}
	}
	cfg.Protocol = proto
	s.operation = op
	s.filename = filename
	s.protocol = proto
	s.eng = engine.New(cfg)
	s.state = StateOpNegotiated
	return nil
}

// BeginData moves OP_NEGOTIATED -> DATA once the first data frame of
// the transfer is ready to flow in either direction.
func (s *Session) BeginData() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpNegotiated {
		return TransitionError{From: s.state, Event: "begin-data"}
	}
	s.state = StateData
	return nil
}

// AcceptsData reports whether the session is in a state that accepts
// inbound DATA frames at all; a frame arriving before the handshake
// completed, or after FIN started teardown, is dropped rather than
// processed (spec.md's "DATA while disconnected" guardrail).
func (s *Session) AcceptsData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateData || s.state == StateOpNegotiated
}

// ValidDataSeq enforces the per-protocol sequence guardrail: StopAndWait
// only ever uses the handshake-reserved low sequence numbers {0,1},
// while SelectiveRepeat's data sequences start at 2.
func (s *Session) ValidDataSeq(seq uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.protocol == wire.SelectiveRepeat {
		return seq >= 2
	}
	return seq == 0 || seq == 1
}

// OnFin begins teardown, moving DATA (or OP_NEGOTIATED, for a
// zero-length transfer) -> CLOSING.
func (s *Session) OnFin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateData && s.state != StateOpNegotiated {
		return TransitionError{From: s.state, Event: "FIN"}
	}
	s.state = StateClosing
	return nil
}

// Close finalizes teardown, moving CLOSING -> CLOSED, and stamps the
// session's metrics as finished.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.Metrics.Finish()
}
