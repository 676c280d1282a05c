package transport

import (
	"math/rand"

	"github.com/osistack/osistack/internal/wire"
)

// Segment control flags.
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagACK = 0x10
)

// Segment is the transport envelope.
type Segment struct {
	SrcPort int      `json:"src_port"`
	DstPort int      `json:"dst_port"`
	SeqNum  uint32   `json:"seq_num"`
	AckNum  uint32   `json:"ack_num"`
	Flags   int      `json:"flags"`
	Window  int      `json:"window"`
	Data    wire.Hex `json:"data"`
}

func (s Segment) Bytes() ([]byte, error) {
	return wire.Marshal(s)
}

func ParseSegment(b []byte) (Segment, error) {
	var s Segment
	if err := wire.Unmarshal(b, &s); err != nil {
		return Segment{}, err
	}
	return s, nil
}

func (s Segment) IsSYN() bool { return s.Flags&FlagSYN != 0 }
func (s Segment) IsACK() bool { return s.Flags&FlagACK != 0 }
func (s Segment) IsFIN() bool { return s.Flags&FlagFIN != 0 }

// State is a connection state. The full TCP state set is named; in this
// simplified model only the first six are ever reached, the rest have no
// transitions into them.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

const defaultWindow = 65535

// Connection is per-port transport state.
type Connection struct {
	LocalPort  int
	RemotePort int
	RemoteAddr string
	State      State

	// SeqNum is this side's next sequence number, initialized randomly.
	SeqNum uint32
	// AckNum is the acknowledgment number carried on outgoing segments.
	AckNum uint32
	// ExpectedSeq is the next in-order sequence number from the peer.
	ExpectedSeq uint32
	Window      int

	sendBuffer []byte
	recvBuffer []byte
	// SegmentsToAck holds out-of-order sequence numbers pending acknowledgment.
	SegmentsToAck map[uint32]struct{}
}

func NewConnection(localPort, remotePort int, remoteAddr string) *Connection {
	return &Connection{
		LocalPort:     localPort,
		RemotePort:    remotePort,
		RemoteAddr:    remoteAddr,
		State:         StateClosed,
		SeqNum:        rand.Uint32(),
		Window:        defaultWindow,
		SegmentsToAck: make(map[uint32]struct{}),
	}
}

func (c *Connection) IsEstablished() bool {
	return c.State == StateEstablished
}

func (c *Connection) addToSendBuffer(data []byte) {
	c.sendBuffer = append(c.sendBuffer, data...)
}

// takeFromSendBuffer removes and returns up to size bytes.
func (c *Connection) takeFromSendBuffer(size int) []byte {
	if size >= len(c.sendBuffer) {
		data := c.sendBuffer
		c.sendBuffer = nil
		return data
	}
	data := c.sendBuffer[:size]
	c.sendBuffer = c.sendBuffer[size:]
	return data
}

func (c *Connection) addToRecvBuffer(data []byte) {
	c.recvBuffer = append(c.recvBuffer, data...)
}

// drainRecvBuffer returns all buffered bytes in order and empties the buffer.
func (c *Connection) drainRecvBuffer() []byte {
	data := c.recvBuffer
	c.recvBuffer = nil
	return data
}
