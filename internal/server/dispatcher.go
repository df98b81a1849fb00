// Package server implements the dispatcher: the single UDP socket, the
// worker pool that decodes and routes inbound frames to sessions, the
// background sender each DOWNLOAD gets, and the idle-session janitor.
//
// Grounded on the teacher's internal/serverudp.go Start/packetLoop
// (ListenUDP, buffered socket, dedicated read goroutine) generalized
// from a single-goroutine dispatch loop into a bounded worker pool
// feeding off one channel, the way telepresence wires its outbound
// workers through golang.org/x/sync/errgroup.
package server

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"udpft/internal/config"
	"udpft/internal/engine"
	"udpft/internal/logging"
	"udpft/internal/metrics"
	"udpft/internal/session"
	"udpft/internal/storage"
	"udpft/pkg/wire"
)

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// Dispatcher owns the listening socket and routes every inbound frame
// to the session it belongs to.
type Dispatcher struct {
	conn     *net.UDPConn
	registry *session.Registry
	storage  *storage.Gateway
	metrics  *metrics.ServerMetrics
	cfg      config.ServerConfig
	log      *logging.Entry
}

// New builds a dispatcher bound to conn, serving files under gw.
func New(conn *net.UDPConn, gw *storage.Gateway, cfg config.ServerConfig) *Dispatcher {
	return &Dispatcher{
		conn:     conn,
		registry: session.NewRegistry(),
		storage:  gw,
		metrics:  metrics.NewServerMetrics(),
		cfg:      cfg,
		log:      logging.Component("server"),
	}
}

// Metrics returns a snapshot of the server-wide counters.
func (d *Dispatcher) Metrics() metrics.ServerMetrics { return d.metrics.GetSnapshot() }

// Run drives the read loop, the worker pool, and the janitor until ctx
// is canceled or a fatal socket error occurs.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	incoming := make(chan datagram, 256)

	g.Go(func() error { return d.readLoop(ctx, incoming) })

	workers := d.cfg.Workers
	if workers < 1 {
		workers = config.DefaultWorkers
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error { return d.workerLoop(ctx, incoming) })
	}

	g.Go(func() error { return d.janitorLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) readLoop(ctx context.Context, out chan<- datagram) error {
	buf := make([]byte, wire.MaxFrameSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- datagram{data: cp, addr: addr}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, in <-chan datagram) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case dg := <-in:
			d.handle(dg)
		}
	}
}

func (d *Dispatcher) send(addr *net.UDPAddr, pkt wire.Packet) {
	n, err := d.conn.WriteToUDP(wire.Encode(pkt), addr)
	if err != nil {
		d.log.WithField("peer", addr.String()).WithError(err).Warn("write failed")
		return
	}
	d.metrics.AddBytesSent(uint64(n))
	d.metrics.AddSegmentsSent(1)
}

// handle decodes one inbound frame and routes it to its session.
// Integrity-failed frames are dropped silently, per spec.
func (d *Dispatcher) handle(dg datagram) {
	pkt, err := wire.Decode(dg.data)
	if err != nil {
		d.metrics.AddError()
		return
	}

	now := time.Now()
	s, created := d.registry.GetOrCreate(dg.addr)
	if created {
		d.metrics.AddConnection()
	}
	s.Touch(now)

	// Held for the whole frame: every handler below may read or mutate
	// this session's engine, and two datagrams from the same peer must
	// never be processed concurrently.
	s.Lock()
	defer s.Unlock()

	switch {
	case pkt.Flags.Has(wire.SYN) && !pkt.Flags.Has(wire.ACK):
		d.handleSyn(s, dg.addr)
	case pkt.Flags.Has(wire.FIN):
		d.handleFin(s, dg.addr, pkt)
	case pkt.Flags.Has(wire.DATA) && s.State() == session.StateSynReceived:
		d.handleOperation(s, dg.addr, pkt)
	case pkt.Flags.Has(wire.DATA):
		d.handleData(s, dg.addr, pkt, now)
	case pkt.Flags.Has(wire.ACK):
		d.handleAck(s, dg.addr, pkt, now)
	}
}

func (d *Dispatcher) handleSyn(s *session.Session, addr *net.UDPAddr) {
	if err := s.OnSyn(); err != nil {
		// duplicate SYN: the client never saw our SYN|ACK, resend it.
		if s.State() != session.StateClosed {
			d.send(addr, wire.SynAck())
		}
		return
	}
	s.Log().Debug("handshake SYN accepted")
	d.send(addr, wire.SynAck())
}

func (d *Dispatcher) protocolLimits(proto wire.Protocol) (timeout time.Duration, maxRetries int) {
	if proto == wire.SelectiveRepeat {
		return config.DefaultSelectiveRepeatTimeout, config.DefaultSelectiveRepeatMaxRetries
	}
	return config.DefaultStopAndWaitTimeout, config.DefaultStopAndWaitMaxRetries
}

func (d *Dispatcher) handleOperation(s *session.Session, addr *net.UDPAddr, pkt wire.Packet) {
	op, filename, proto, err := wire.DecodeOperation(pkt.Payload)
	if err != nil {
		d.send(addr, wire.Err(pkt.Seq, wire.ErrOperationNotSet, err.Error()))
		return
	}

	startSeq := uint32(0)
	window := d.cfg.WindowSize
	if window < 1 {
		window = config.DefaultWindowSize
	}
	if proto == wire.SelectiveRepeat {
		startSeq = 2
	}
	timeout, maxRetries := d.protocolLimits(proto)
	cfg := engine.Config{
		Protocol:   proto,
		WindowSize: window,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		StartSeq:   startSeq,
	}

	if err := s.OnOperation(op, filename, proto, cfg); err != nil {
		d.log.WithError(err).Warn("operation rejected")
		return
	}

	switch op {
	case wire.Upload:
		up, err := d.storage.CreateTemp(filename)
		if err != nil {
			d.send(addr, wire.Err(pkt.Seq, wire.ErrCannotCreateFile, err.Error()))
			d.registry.Remove(addr)
			return
		}
		s.SetUpload(up)
		_ = s.BeginData()
		d.send(addr, wire.Ack(pkt.Seq))

	case wire.Download:
		rc, err := d.storage.Open(filename)
		if err != nil {
			d.send(addr, wire.Err(pkt.Seq, wire.ErrFileNotFound, err.Error()))
			d.registry.Remove(addr)
			return
		}
		chunks, err := storage.ChunkReader(rc)
		_ = rc.Close()
		if err != nil {
			d.send(addr, wire.Err(pkt.Seq, wire.ErrFileAccess, err.Error()))
			d.registry.Remove(addr)
			return
		}
		// Staged, not sent yet: the stream only starts once the client's
		// confirming ACK(ack=1) of this very ack arrives, in handleAck.
		s.SetPendingDownload(chunks)
		d.send(addr, wire.Ack(pkt.Seq))
	}
}

func (d *Dispatcher) handleData(s *session.Session, addr *net.UDPAddr, pkt wire.Packet, now time.Time) {
	if !s.AcceptsData() || s.Operation() != wire.Upload {
		return
	}
	if !s.ValidDataSeq(pkt.Seq) {
		return
	}
	ack, delivered := s.Engine().OnData(pkt)
	for _, chunk := range delivered {
		if up := s.Upload(); up != nil {
			if _, err := up.Write(chunk); err != nil {
				d.log.WithError(err).Error("upload write failed")
				d.send(addr, wire.Err(pkt.Seq, wire.ErrWrite, err.Error()))
				return
			}
			s.Metrics.AddBytesReceived(uint64(len(chunk)))
			s.Metrics.AddSegmentsReceived(1)
		}
	}
	if ack.Flags.Has(wire.ACK) {
		d.send(addr, ack)
	}
}

// handleAck serves two purposes for a DOWNLOAD session: while still in
// OP_NEGOTIATED, the client's confirming ACK(ack=1) of the operation
// packet is what starts the background sender; from then on, inbound
// ACKs drive the engine's retransmit bookkeeping.
func (d *Dispatcher) handleAck(s *session.Session, addr *net.UDPAddr, pkt wire.Packet, now time.Time) {
	if s.Operation() != wire.Download {
		return
	}

	if s.State() == session.StateOpNegotiated {
		if pkt.Ack != 1 {
			return
		}
		chunks := s.TakePendingDownload()
		if chunks == nil {
			return
		}
		if err := s.BeginData(); err != nil {
			d.log.WithError(err).Warn("could not start DOWNLOAD data phase")
			return
		}
		eng := s.Engine()
		eng.StartSend(chunks)
		startSeq := uint32(0)
		if s.Protocol() == wire.SelectiveRepeat {
			startSeq = 2
		}
		finSeq := startSeq + uint32(len(chunks))
		d.startDownloadSender(s, addr, finSeq)
		return
	}

	if s.Engine() == nil {
		return
	}
	frames := s.Engine().OnAck(pkt, now)
	for _, f := range frames {
		s.Metrics.AddRetransmission()
		d.send(addr, f)
	}
}

// handleFin processes both directions FIN can travel. A plain FIN is
// the peer initiating teardown (the UPLOAD direction: the client is
// done sending and the server finalizes the upload file). A FIN|ACK is
// the peer's reply to a FIN the server itself sent (the DOWNLOAD
// direction: the server already finished sending and is just waiting
// for the client's confirmation before dropping the session).
func (d *Dispatcher) handleFin(s *session.Session, addr *net.UDPAddr, pkt wire.Packet) {
	if pkt.Flags.Has(wire.ACK) {
		if s.State() != session.StateClosed {
			s.Close()
		}
		d.registry.Remove(addr)
		d.metrics.RemoveConnection()
		return
	}

	wasOpen := s.State() != session.StateClosed
	if err := s.OnFin(); err == nil {
		if up := s.Upload(); up != nil {
			if ferr := up.Finalize(); ferr != nil {
				d.log.WithError(ferr).Error("upload finalize failed")
			}
		}
		s.Close()
	}
	// Reply FIN|ACK even on a replayed FIN whose session was already
	// torn down: the client may have missed our first reply.
	d.send(addr, wire.FinAck(pkt.Seq, pkt.Seq))
	d.registry.Remove(addr)
	if wasOpen {
		d.metrics.RemoveConnection()
	}
}

// startDownloadSender runs a DOWNLOAD's engine-driven send loop in its
// own goroutine, so the dispatcher's worker pool is never blocked
// waiting on one peer's retransmit timers. Once the engine reports the
// transfer done it sends FIN and waits for the client's FIN|ACK reply,
// resending on a bounded retry budget exactly like the client does for
// an UPLOAD's own teardown.
func (d *Dispatcher) startDownloadSender(s *session.Session, addr *net.UDPAddr, finSeq uint32) {
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			s.Lock()
			if s.State() == session.StateClosed || s.State() == session.StateClosing {
				s.Unlock()
				return
			}
			eng := s.Engine()
			if eng == nil {
				s.Unlock()
				return
			}
			frames, done := eng.Poll(time.Now())
			for _, f := range frames {
				d.send(addr, f)
			}
			exhausted := eng.Exhausted()
			s.Unlock()

			if exhausted {
				s.Log().Warn("download retry budget exhausted, abandoning session")
				d.registry.Remove(addr)
				return
			}
			if done {
				d.finishDownload(s, addr, finSeq)
				return
			}
		}
	}()
}

// finishDownload sends the terminating FIN for a completed DOWNLOAD and
// retries it until the client's FIN|ACK closes the session (handleFin),
// or the retry budget runs out. The lock is released between attempts
// so the client's reply can still reach handleFin and close the session.
func (d *Dispatcher) finishDownload(s *session.Session, addr *net.UDPAddr, finSeq uint32) {
	for attempt := 0; attempt < config.DefaultFinRetries; attempt++ {
		s.Lock()
		closed := s.State() == session.StateClosed
		if !closed {
			d.send(addr, wire.Fin(finSeq))
		}
		s.Unlock()
		if closed {
			return
		}
		time.Sleep(config.DefaultFinWait)
	}

	s.Lock()
	stillOpen := s.State() != session.StateClosed
	s.Unlock()
	if stillOpen {
		s.Log().Warn("FIN retries exhausted, dropping DOWNLOAD session")
		d.registry.Remove(addr)
	}
}

func (d *Dispatcher) janitorLoop(ctx context.Context) error {
	every := d.cfg.JanitorEvery
	if every <= 0 {
		every = config.DefaultJanitorEvery
	}
	idle := d.cfg.SessionIdle
	if idle <= 0 {
		idle = config.DefaultSessionIdle
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, s := range d.registry.ReapIdle(now, idle) {
				d.log.WithField("peer", s.Peer.String()).Debug("reaping idle session")
				s.Lock()
				if up := s.Upload(); up != nil {
					_ = up.Abort()
				}
				s.Close()
				s.Unlock()
				d.metrics.RemoveConnection()
			}
		}
	}
}
