// Package transport provides connection-oriented, ordered delivery between
// two single-node endpoints, modeled on a TCP handshake and teardown
// skeleton. Handshakes are fire-and-forget: state advances without waiting
// for the peer's reply.
package transport

import (
	"sync"

	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/observability"
	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/stack/network"
)

// MaxSegmentSize caps the payload of one outbound segment.
const MaxSegmentSize = 1024

const ephemeralPortStart = 49152

// Layer is the transport layer. It exclusively owns the connection table,
// keyed by local port. The pipeline itself is single-threaded; the table
// lock exists for read-only diagnostic snapshots taken off-thread.
type Layer struct {
	stack.Neighbors

	mu          sync.RWMutex
	connections map[int]*Connection
	nextPort    int
}

func NewLayer() *Layer {
	return &Layer{
		connections: make(map[int]*Connection),
		nextPort:    ephemeralPortStart,
	}
}

func (l *Layer) Name() string { return "transport" }

// CreateConnection allocates a connection on a fresh ephemeral port.
func (l *Layer) CreateConnection(remotePort int, remoteAddr string) *Connection {
	l.mu.Lock()
	localPort := l.nextPort
	l.nextPort++
	conn := NewConnection(localPort, remotePort, remoteAddr)
	l.connections[localPort] = conn
	n := len(l.connections)
	l.mu.Unlock()
	observability.SetActiveConnections(n)
	return conn
}

// GetConnection returns the connection on localPort, if any.
func (l *Layer) GetConnection(localPort int) *Connection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connections[localPort]
}

// FindConnectionByRemote returns the connection to (remotePort, remoteAddr),
// if any.
func (l *Layer) FindConnectionByRemote(remotePort int, remoteAddr string) *Connection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.connections {
		if c.RemotePort == remotePort && c.RemoteAddr == remoteAddr {
			return c
		}
	}
	return nil
}

// Connect opens a connection to a remote endpoint. The SYN is sent and the
// connection immediately advances to ESTABLISHED without waiting for the
// peer's SYN-ACK.
func (l *Layer) Connect(remotePort int, remoteAddr string) *Connection {
	conn := l.CreateConnection(remotePort, remoteAddr)
	conn.State = StateSynSent

	log := logging.Layer("transport")
	log.Info().
		Str("remote", remoteAddr).Int("port", remotePort).
		Int("local_port", conn.LocalPort).Msg("initiating connection")

	syn := Segment{
		SrcPort: conn.LocalPort,
		DstPort: remotePort,
		SeqNum:  conn.SeqNum,
		Flags:   FlagSYN,
		Window:  conn.Window,
	}
	conn.SeqNum++
	l.sendSegment(syn, conn.RemoteAddr)

	conn.State = StateEstablished
	return conn
}

// Accept registers a listening connection on localPort.
func (l *Layer) Accept(localPort int) *Connection {
	conn := NewConnection(localPort, 0, "")
	conn.State = StateListen
	l.mu.Lock()
	l.connections[localPort] = conn
	n := len(l.connections)
	l.mu.Unlock()
	observability.SetActiveConnections(n)
	log := logging.Layer("transport")
	log.Info().Int("port", localPort).Msg("listening")
	return conn
}

// Send transmits data over an established connection, draining the send
// buffer in segments of at most MaxSegmentSize bytes.
func (l *Layer) Send(conn *Connection, data []byte) {
	log := logging.Layer("transport")
	if !conn.IsEstablished() {
		log.Warn().Int("local_port", conn.LocalPort).
			Str("state", conn.State.String()).Msg("cannot send, connection not established")
		return
	}

	log.Debug().Int("bytes", len(data)).Int("local_port", conn.LocalPort).
		Str("remote", conn.RemoteAddr).Int("remote_port", conn.RemotePort).Msg("sending")

	conn.addToSendBuffer(data)
	for len(conn.sendBuffer) > 0 {
		chunk := conn.takeFromSendBuffer(MaxSegmentSize)
		seg := Segment{
			SrcPort: conn.LocalPort,
			DstPort: conn.RemotePort,
			SeqNum:  conn.SeqNum,
			AckNum:  conn.AckNum,
			Flags:   FlagACK,
			Window:  conn.Window,
			Data:    chunk,
		}
		conn.SeqNum += uint32(len(chunk))
		l.sendSegment(seg, conn.RemoteAddr)
	}
}

// Close tears down a connection. The FIN is sent and the connection is
// removed immediately; no FIN_WAIT delay is honored.
func (l *Layer) Close(conn *Connection) {
	log := logging.Layer("transport")
	if conn.State == StateClosed {
		log.Debug().Int("local_port", conn.LocalPort).Msg("connection already closed")
		return
	}

	log.Info().Int("local_port", conn.LocalPort).
		Str("remote", conn.RemoteAddr).Int("remote_port", conn.RemotePort).Msg("closing connection")

	fin := Segment{
		SrcPort: conn.LocalPort,
		DstPort: conn.RemotePort,
		SeqNum:  conn.SeqNum,
		AckNum:  conn.AckNum,
		Flags:   FlagFIN | FlagACK,
		Window:  conn.Window,
	}
	conn.SeqNum++
	conn.State = StateFinWait1
	l.sendSegment(fin, conn.RemoteAddr)

	conn.State = StateClosed
	l.removeConnection(conn.LocalPort)
}

// ConnectionSnapshot is a read-only view of one table entry.
type ConnectionSnapshot struct {
	LocalPort  int    `json:"local_port"`
	RemotePort int    `json:"remote_port"`
	RemoteAddr string `json:"remote_addr"`
	State      string `json:"state"`
}

// Snapshot lists the current connection table.
func (l *Layer) Snapshot() []ConnectionSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ConnectionSnapshot, 0, len(l.connections))
	for _, c := range l.connections {
		out = append(out, ConnectionSnapshot{
			LocalPort:  c.LocalPort,
			RemotePort: c.RemotePort,
			RemoteAddr: c.RemoteAddr,
			State:      c.State.String(),
		})
	}
	return out
}

func (l *Layer) removeConnection(localPort int) {
	l.mu.Lock()
	delete(l.connections, localPort)
	n := len(l.connections)
	l.mu.Unlock()
	observability.SetActiveConnections(n)
}

func (l *Layer) sendSegment(seg Segment, dstAddr string) {
	b, err := seg.Bytes()
	if err != nil {
		log := logging.Layer("transport")
		log.Error().Err(err).Msg("segment encode failed")
		observability.RecordDrop("transport", "encode")
		return
	}
	observability.RecordSent("transport")
	if lower := l.Lower(); lower != nil {
		lower.SendDown(b, stack.Metadata{NetAddr: dstAddr, Protocol: network.ProtocolTCP})
	}
}

func (l *Layer) SendDown(data []byte, md stack.Metadata) {
	log := logging.Layer("transport")

	var conn *Connection
	if md.LocalPort != 0 {
		conn = l.GetConnection(md.LocalPort)
	}
	if conn == nil && md.RemotePort != 0 && md.RemoteAddr != "" {
		conn = l.FindConnectionByRemote(md.RemotePort, md.RemoteAddr)
		if conn == nil {
			conn = l.Connect(md.RemotePort, md.RemoteAddr)
		}
	}
	if conn == nil {
		log.Warn().Msg("no connection available, cannot send")
		observability.RecordDrop("transport", "no_connection")
		return
	}

	l.Send(conn, data)
}

func (l *Layer) SendUp(data []byte, md stack.Metadata) {
	log := logging.Layer("transport")

	// Only protocol number 6 is carried; everything else is dropped.
	if md.Protocol != network.ProtocolTCP {
		log.Debug().Int("protocol", md.Protocol).Msg("not a TCP segment, discarding")
		observability.RecordDrop("transport", "protocol")
		return
	}

	seg, err := ParseSegment(data)
	if err != nil {
		log.Warn().Err(err).Msg("malformed segment, discarding")
		observability.RecordDrop("transport", "malformed")
		return
	}
	log.Debug().Int("src_port", seg.SrcPort).Int("dst_port", seg.DstPort).
		Uint32("seq", seg.SeqNum).Uint32("ack", seg.AckNum).
		Int("flags", seg.Flags).Msg("segment received")

	conn := l.GetConnection(seg.DstPort)

	if conn == nil && seg.IsSYN() {
		conn = l.handleSYN(seg, md.NetAddr)
	} else if conn != nil && seg.IsSYN() {
		// SYN or SYN-ACK on a known connection synchronizes the expected
		// peer sequence; the active opener is already ESTABLISHED.
		conn.AckNum = seg.SeqNum + 1
		conn.ExpectedSeq = seg.SeqNum + 1
	}
	if conn == nil {
		log.Debug().Int("dst_port", seg.DstPort).Msg("no connection for port, discarding")
		observability.RecordDrop("transport", "no_connection")
		return
	}

	if seg.IsFIN() {
		l.handleFIN(conn, seg)
		return
	}

	if len(seg.Data) > 0 {
		l.handleData(conn, seg, md)
	}
}

// handleSYN creates the passive side of a connection. The SYN-ACK is sent and
// the connection immediately advances to ESTABLISHED.
func (l *Layer) handleSYN(seg Segment, remoteAddr string) *Connection {
	conn := NewConnection(seg.DstPort, seg.SrcPort, remoteAddr)
	conn.State = StateSynReceived
	conn.AckNum = seg.SeqNum + 1
	conn.ExpectedSeq = seg.SeqNum + 1
	l.mu.Lock()
	l.connections[seg.DstPort] = conn
	n := len(l.connections)
	l.mu.Unlock()
	observability.SetActiveConnections(n)

	synAck := Segment{
		SrcPort: conn.LocalPort,
		DstPort: conn.RemotePort,
		SeqNum:  conn.SeqNum,
		AckNum:  conn.AckNum,
		Flags:   FlagSYN | FlagACK,
		Window:  conn.Window,
	}
	conn.SeqNum++
	l.sendSegment(synAck, conn.RemoteAddr)

	conn.State = StateEstablished
	log := logging.Layer("transport")
	log.Info().Int("local_port", conn.LocalPort).
		Str("remote", conn.RemoteAddr).Int("remote_port", conn.RemotePort).
		Msg("connection established")
	return conn
}

// handleFIN acknowledges the peer's FIN and tears the connection down
// immediately.
func (l *Layer) handleFIN(conn *Connection, seg Segment) {
	log := logging.Layer("transport")
	log.Info().Int("local_port", conn.LocalPort).Msg("received FIN, closing connection")

	finAck := Segment{
		SrcPort: conn.LocalPort,
		DstPort: conn.RemotePort,
		SeqNum:  conn.SeqNum,
		AckNum:  seg.SeqNum + 1,
		Flags:   FlagFIN | FlagACK,
		Window:  conn.Window,
	}
	conn.SeqNum++
	l.sendSegment(finAck, conn.RemoteAddr)

	conn.State = StateClosed
	l.removeConnection(conn.LocalPort)
}

func (l *Layer) handleData(conn *Connection, seg Segment, md stack.Metadata) {
	log := logging.Layer("transport")

	if seg.SeqNum != conn.ExpectedSeq {
		log.Debug().Uint32("expected", conn.ExpectedSeq).Uint32("got", seg.SeqNum).
			Msg("out-of-order segment")
		conn.SegmentsToAck[seg.SeqNum] = struct{}{}

		// Duplicate ACK carrying the unchanged expected sequence. No
		// reordering buffer and no retransmission exist in this model.
		dupAck := Segment{
			SrcPort: conn.LocalPort,
			DstPort: conn.RemotePort,
			SeqNum:  conn.SeqNum,
			AckNum:  conn.ExpectedSeq,
			Flags:   FlagACK,
			Window:  conn.Window,
		}
		l.sendSegment(dupAck, conn.RemoteAddr)
		observability.RecordDrop("transport", "out_of_order")
		return
	}

	if !conn.IsEstablished() {
		log.Warn().Int("local_port", conn.LocalPort).
			Str("state", conn.State.String()).Msg("data on non-established connection, discarding")
		observability.RecordDrop("transport", "not_established")
		return
	}

	conn.addToRecvBuffer(seg.Data)
	conn.ExpectedSeq = seg.SeqNum + uint32(len(seg.Data))

	ack := Segment{
		SrcPort: conn.LocalPort,
		DstPort: conn.RemotePort,
		SeqNum:  conn.SeqNum,
		AckNum:  conn.ExpectedSeq,
		Flags:   FlagACK,
		Window:  conn.Window,
	}
	l.sendSegment(ack, conn.RemoteAddr)

	observability.RecordReceived("transport")
	if upper := l.Upper(); upper != nil {
		md.LocalPort = conn.LocalPort
		md.RemotePort = conn.RemotePort
		md.RemoteAddr = conn.RemoteAddr
		upper.SendUp(conn.drainRecvBuffer(), md)
	}
}
