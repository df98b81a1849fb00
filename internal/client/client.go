// Package client implements the client-side driver for UPLOAD and
// DOWNLOAD transfers: the handshake, operation negotiation, and the
// engine-driven send/receive loop, mirroring the dispatcher on the
// other end of the wire.
//
// Grounded on the teacher's internal/clientudp.go transferOnce
// (dial, buffer sizing, deadline-bounded read loop) generalized from
// its fixed REQ/META/NACK flow to spec.md's SYN/operation/DATA/FIN
// handshake and pluggable engine.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"udpft/internal/config"
	"udpft/internal/engine"
	"udpft/internal/logging"
	"udpft/internal/metrics"
	"udpft/internal/storage"
	"udpft/pkg/wire"
)

// Driver drives one transfer over a dialed UDP socket.
type Driver struct {
	conn *net.UDPConn
	cfg  config.ClientConfig
	log  *logging.Entry
}

// Dial resolves cfg's host/port and connects a UDP socket to it.
func Dial(cfg config.ClientConfig) (*Driver, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("client: resolving %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", addr, err)
	}
	_ = conn.SetReadBuffer(config.DefaultReadBuffer)
	_ = conn.SetWriteBuffer(config.DefaultWriteBuffer)
	return &Driver{conn: conn, cfg: cfg, log: logging.Component("client")}, nil
}

// Close releases the underlying socket.
func (d *Driver) Close() error { return d.conn.Close() }

func (d *Driver) readPacket() (wire.Packet, error) {
	buf := make([]byte, wire.MaxFrameSize)
	n, err := d.conn.Read(buf)
	if err != nil {
		return wire.Packet{}, err
	}
	return wire.Decode(buf[:n])
}

func (d *Driver) windowSize() int {
	if d.cfg.WindowSize > 0 {
		return d.cfg.WindowSize
	}
	return config.DefaultWindowSize
}

func (d *Driver) protocolLimits(proto wire.Protocol) (timeout time.Duration, maxRetries int) {
	timeout, maxRetries = config.DefaultStopAndWaitTimeout, config.DefaultStopAndWaitMaxRetries
	if proto == wire.SelectiveRepeat {
		timeout, maxRetries = config.DefaultSelectiveRepeatTimeout, config.DefaultSelectiveRepeatMaxRetries
	}
	if d.cfg.Timeout > 0 {
		timeout = d.cfg.Timeout
	}
	return timeout, maxRetries
}

// handshake sends SYN and waits for SYN|ACK, retrying per spec's
// handshake reliability rule (≤10 tries, ~0.6s backoff).
func (d *Driver) handshake() error {
	for attempt := 0; attempt < config.DefaultHandshakeRetries; attempt++ {
		if _, err := d.conn.Write(wire.Encode(wire.Syn())); err != nil {
			return fmt.Errorf("client: sending SYN: %w", err)
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(config.DefaultHandshakeBackoff))
		pkt, err := d.readPacket()
		if err != nil {
			continue
		}
		if pkt.Flags.Has(wire.SYN) && pkt.Flags.Has(wire.ACK) {
			return nil
		}
	}
	return errors.New("client: handshake failed, server never answered SYN")
}

// sendOperation sends the operation packet (DATA seq=1) and waits for
// its ACK, with the same retry budget as the handshake.
func (d *Driver) sendOperation(op wire.Operation, filename string, proto wire.Protocol) error {
	pkt := wire.Packet{Seq: 1, Flags: wire.DATA, Payload: wire.EncodeOperation(op, filename, proto)}
	for attempt := 0; attempt < config.DefaultHandshakeRetries; attempt++ {
		if _, err := d.conn.Write(wire.Encode(pkt)); err != nil {
			return fmt.Errorf("client: sending operation packet: %w", err)
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(config.DefaultHandshakeBackoff))
		reply, err := d.readPacket()
		if err != nil {
			continue
		}
		if reply.Flags.Has(wire.ERR) {
			code, msg, _ := wire.DecodeErr(reply)
			return fmt.Errorf("client: server rejected operation (%s): %s", code, msg)
		}
		if reply.Flags.Has(wire.ACK) && reply.Ack == 1 {
			// Confirming ACK: for DOWNLOAD this is what the server's
			// handleAck waits for, still in OP_NEGOTIATED, to start the
			// background sender.
			if _, err := d.conn.Write(wire.Encode(wire.Ack(1))); err != nil {
				return fmt.Errorf("client: sending confirming ACK: %w", err)
			}
			return nil
		}
	}
	return errors.New("client: operation negotiation failed, server never acked it")
}

// sendFin drives teardown: send FIN, wait for FIN|ACK, retry up to
// spec's FIN retry budget (≤5, 2s waits).
func (d *Driver) sendFin(seq uint32) error {
	for attempt := 0; attempt < config.DefaultFinRetries; attempt++ {
		if _, err := d.conn.Write(wire.Encode(wire.Fin(seq))); err != nil {
			return fmt.Errorf("client: sending FIN: %w", err)
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(config.DefaultFinWait))
		pkt, err := d.readPacket()
		if err != nil {
			continue
		}
		if pkt.Flags.Has(wire.FIN) {
			return nil
		}
	}
	return errors.New("client: FIN handshake failed, closing socket regardless")
}

// Upload drives the engine from localPath's bytes to the server under
// remoteName.
func (d *Driver) Upload(localPath, remoteName string, proto wire.Protocol) error {
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("client: opening %s: %w", localPath, err)
	}
	chunks, err := storage.ChunkReader(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("client: reading %s: %w", localPath, err)
	}

	if err := d.handshake(); err != nil {
		return err
	}
	if err := d.sendOperation(wire.Upload, remoteName, proto); err != nil {
		return err
	}

	startSeq := uint32(0)
	if proto == wire.SelectiveRepeat {
		startSeq = 2
	}
	timeout, maxRetries := d.protocolLimits(proto)
	eng := engine.New(engine.Config{
		Protocol:   proto,
		WindowSize: d.windowSize(),
		Timeout:    timeout,
		MaxRetries: maxRetries,
		StartSeq:   startSeq,
	})
	eng.StartSend(chunks)

	m := metrics.NewTransferMetrics()
	if err := d.driveSend(eng, m); err != nil {
		return err
	}
	m.Finish()

	return d.sendFin(startSeq + uint32(len(chunks)))
}

// driveSend polls eng for sends/retransmits and feeds it inbound ACKs
// until the transfer completes or its retry budget is exhausted.
func (d *Driver) driveSend(eng engine.Engine, m *metrics.TransferMetrics) error {
	for {
		frames, done := eng.Poll(time.Now())
		for _, fr := range frames {
			n, err := d.conn.Write(wire.Encode(fr))
			if err != nil {
				return fmt.Errorf("client: sending data frame: %w", err)
			}
			m.AddBytesSent(uint64(n))
			m.AddSegmentsSent(1)
		}
		if done {
			return nil
		}
		if eng.Exhausted() {
			return errors.New("client: retry budget exhausted, aborting upload")
		}

		_ = d.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		pkt, err := d.readPacket()
		if err != nil {
			continue
		}
		if !pkt.Flags.Has(wire.ACK) {
			continue
		}
		immediate := eng.OnAck(pkt, time.Now())
		for _, fr := range immediate {
			n, err := d.conn.Write(wire.Encode(fr))
			if err != nil {
				return fmt.Errorf("client: sending data frame: %w", err)
			}
			m.AddBytesSent(uint64(n))
			m.AddSegmentsSent(1)
		}
	}
}

// Download drives the engine's receive path, writing to a temp file
// alongside localPath and renaming it into place once the server signals
// FIN (the sender-side direction is reversed from UPLOAD: the server
// decides when the transfer is done).
func (d *Driver) Download(remoteName, localPath string, proto wire.Protocol) error {
	if localPath == "" {
		localPath = wire.Join(".", remoteName)
	}
	if err := d.handshake(); err != nil {
		return err
	}
	if err := d.sendOperation(wire.Download, remoteName, proto); err != nil {
		return err
	}

	startSeq := uint32(0)
	if proto == wire.SelectiveRepeat {
		startSeq = 2
	}
	timeout, maxRetries := d.protocolLimits(proto)
	eng := engine.New(engine.Config{
		Protocol:   proto,
		WindowSize: d.windowSize(),
		Timeout:    timeout,
		MaxRetries: maxRetries,
		StartSeq:   startSeq,
	})

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tempPath := localPath + ".download.tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("client: creating %s: %w", tempPath, err)
	}

	m := metrics.NewTransferMetrics()
	for {
		_ = d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		pkt, err := d.readPacket()
		if err != nil {
			f.Close()
			os.Remove(tempPath)
			return fmt.Errorf("client: download stalled: %w", err)
		}
		if pkt.Flags.Has(wire.ERR) {
			f.Close()
			os.Remove(tempPath)
			code, msg, _ := wire.DecodeErr(pkt)
			return fmt.Errorf("client: server error %s: %s", code, msg)
		}
		if pkt.Flags.Has(wire.FIN) {
			if err := f.Close(); err != nil {
				return err
			}
			if err := os.Rename(tempPath, localPath); err != nil {
				return fmt.Errorf("client: finalizing %s: %w", localPath, err)
			}
			_, _ = d.conn.Write(wire.Encode(wire.FinAck(pkt.Seq, pkt.Seq)))
			m.Finish()
			return nil
		}
		if !pkt.Flags.Has(wire.DATA) {
			continue
		}
		ack, delivered := eng.OnData(pkt)
		for _, chunk := range delivered {
			if _, err := f.Write(chunk); err != nil {
				f.Close()
				return fmt.Errorf("client: writing %s: %w", tempPath, err)
			}
			m.AddBytesReceived(uint64(len(chunk)))
			m.AddSegmentsReceived(1)
		}
		if ack.Flags.Has(wire.ACK) {
			_, _ = d.conn.Write(wire.Encode(ack))
		}
	}
}
