// Package physical is the raw byte-transport boundary of the pipeline. It
// moves opaque envelopes between peers with length-prefixed framing and knows
// nothing about the layers above it.
package physical

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/stack"
)

const (
	connectRetries    = 5
	connectRetryDelay = 2 * time.Second
)

var ErrNotInitialized = errors.New("physical: medium not initialized")

// Medium is the transmission mechanism below the data link layer.
type Medium interface {
	Initialize() error
	Transmit(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// TCPMedium carries envelopes over a TCP connection, each prefixed with a
// 4-byte big-endian length.
type TCPMedium struct {
	isServer bool
	host     string
	port     int

	listener net.Listener
	conn     net.Conn
}

func NewTCPMedium(isServer bool, host string, port int) *TCPMedium {
	return &TCPMedium{isServer: isServer, host: host, port: port}
}

func (m *TCPMedium) Initialize() error {
	addr := net.JoinHostPort(m.host, fmt.Sprintf("%d", m.port))
	log := logging.Layer("physical")

	if m.isServer {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("physical: listen %s: %w", addr, err)
		}
		m.listener = ln
		log.Info().Str("addr", addr).Msg("listening")
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("physical: accept: %w", err)
		}
		m.conn = conn
		log.Info().Str("peer", conn.RemoteAddr().String()).Msg("connection established")
		return nil
	}

	var lastErr error
	for i := 0; i < connectRetries; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			m.conn = conn
			log.Info().Str("addr", addr).Msg("connected")
			return nil
		}
		lastErr = err
		if i < connectRetries-1 {
			log.Warn().Err(err).Msg("connection failed, retrying")
			time.Sleep(connectRetryDelay)
		}
	}
	return fmt.Errorf("physical: connect %s: %w", addr, lastErr)
}

func (m *TCPMedium) Transmit(data []byte) error {
	if m.conn == nil {
		return ErrNotInitialized
	}
	framed := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(data)))
	copy(framed[4:], data)
	if _, err := m.conn.Write(framed); err != nil {
		return fmt.Errorf("physical: transmit: %w", err)
	}
	return nil
}

func (m *TCPMedium) Receive() ([]byte, error) {
	if m.conn == nil {
		return nil, ErrNotInitialized
	}
	var prefix [4]byte
	if _, err := io.ReadFull(m.conn, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("physical: receive: %w", err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	data := make([]byte, length)
	if _, err := io.ReadFull(m.conn, data); err != nil {
		return nil, fmt.Errorf("physical: receive: %w", err)
	}
	return data, nil
}

func (m *TCPMedium) Close() error {
	var err error
	if m.conn != nil {
		err = m.conn.Close()
	}
	if m.listener != nil {
		if cerr := m.listener.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// bitString renders the first n bits of data, for trace logging only.
func bitString(data []byte, n int) string {
	var sb strings.Builder
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			if sb.Len() >= n {
				return sb.String()
			}
			if b&(1<<uint(i)) != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}

// Layer adapts a Medium into the bottom of the layer chain.
type Layer struct {
	stack.Neighbors

	medium Medium
}

func (l *Layer) Name() string { return "physical" }

func NewLayer(medium Medium) *Layer {
	return &Layer{medium: medium}
}

func (l *Layer) Medium() Medium { return l.medium }

func (l *Layer) SendDown(data []byte, _ stack.Metadata) {
	log := logging.Layer("physical")
	log.Debug().Int("bytes", len(data)).Msg("transmitting")
	log.Trace().Str("bits", bitString(data, 64)).Msg("bit representation")
	if err := l.medium.Transmit(data); err != nil {
		log.Error().Err(err).Msg("transmit failed")
	}
}

// SendUp forwards a received envelope to the data link layer.
func (l *Layer) SendUp(data []byte, md stack.Metadata) {
	if upper := l.Upper(); upper != nil {
		upper.SendUp(data, md)
	}
}

// ReceiveOnce blocks for one envelope from the medium and delivers it upward.
// Returns io.EOF when the peer closes.
func (l *Layer) ReceiveOnce() error {
	data, err := l.medium.Receive()
	if err != nil {
		return err
	}
	log := logging.Layer("physical")
	log.Debug().Int("bytes", len(data)).Msg("received")
	log.Trace().Str("bits", bitString(data, 64)).Msg("bit representation")
	l.SendUp(data, stack.Metadata{})
	return nil
}
