package session

import (
	"time"

	"github.com/osistack/osistack/internal/wire"
)

// MessageType identifies a session control or data message.
type MessageType int

const (
	MessageConnect MessageType = iota + 1
	MessageConnectAck
	MessageData
	MessageDisconnect
	MessageDisconnectAck
	MessageKeepalive
)

func (t MessageType) String() string {
	switch t {
	case MessageConnect:
		return "CONNECT"
	case MessageConnectAck:
		return "CONNECT_ACK"
	case MessageData:
		return "DATA"
	case MessageDisconnect:
		return "DISCONNECT"
	case MessageDisconnectAck:
		return "DISCONNECT_ACK"
	case MessageKeepalive:
		return "KEEPALIVE"
	default:
		return "UNKNOWN"
	}
}

// Message is the session envelope.
type Message struct {
	MsgType   MessageType `json:"msg_type"`
	SessionID string      `json:"session_id"`
	Timestamp float64     `json:"timestamp"`
	Data      wire.Hex    `json:"data"`
}

func NewMessage(t MessageType, sessionID string, data []byte) Message {
	return Message{
		MsgType:   t,
		SessionID: sessionID,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Data:      data,
	}
}

func (m Message) Bytes() ([]byte, error) {
	return wire.Marshal(m)
}

func ParseMessage(b []byte) (Message, error) {
	var m Message
	if err := wire.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
