// Package session multiplexes application sessions above a transport
// connection, with its own connect/disconnect handshake and per-session idle
// tracking. Like the transport handshake, establishment and teardown are
// fire-and-forget.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/observability"
	"github.com/osistack/osistack/internal/stack"
)

// State is a session state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateEstablished
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Session is per-id session state.
type Session struct {
	ID           string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time

	data map[string]any
}

// NewSession creates a session. An empty id gets a generated unique token.
func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		ID:           id,
		State:        StateClosed,
		CreatedAt:    now,
		LastActivity: now,
		data:         make(map[string]any),
	}
}

func (s *Session) IsEstablished() bool { return s.State == StateEstablished }

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() { s.LastActivity = time.Now() }

// Duration is the session age.
func (s *Session) Duration() time.Duration { return time.Since(s.CreatedAt) }

// IdleTime is the time since the last data or keepalive event.
func (s *Session) IdleTime() time.Duration { return time.Since(s.LastActivity) }

// SetData stores a side-data value on the session.
func (s *Session) SetData(key string, value any) { s.data[key] = value }

// GetData returns a side-data value, or nil.
func (s *Session) GetData(key string) any { return s.data[key] }

// Layer is the session layer. It exclusively owns the session table, keyed by
// session id. The table lock only serves off-thread diagnostic snapshots.
type Layer struct {
	stack.Neighbors

	mu         sync.RWMutex
	sessions   map[string]*Session
	localPort  int
	remotePort int
	remoteAddr string
}

const defaultLocalPort = 80

func NewLayer() *Layer {
	return &Layer{
		sessions:  make(map[string]*Session),
		localPort: defaultLocalPort,
	}
}

func (l *Layer) Name() string { return "session" }

// CreateSession registers a new session with a generated id.
func (l *Layer) CreateSession() *Session {
	s := NewSession("")
	l.addSession(s)
	return s
}

// GetSession returns the session with the given id, if any.
func (l *Layer) GetSession(id string) *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[id]
}

func (l *Layer) addSession(s *Session) {
	l.mu.Lock()
	l.sessions[s.ID] = s
	n := len(l.sessions)
	l.mu.Unlock()
	observability.SetActiveSessions(n)
}

// SessionSnapshot is a read-only view of one table entry.
type SessionSnapshot struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	CreatedAt string  `json:"created_at"`
	IdleSecs  float64 `json:"idle_seconds"`
}

// Snapshot lists the current session table.
func (l *Layer) Snapshot() []SessionSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]SessionSnapshot, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, SessionSnapshot{
			ID:        s.ID,
			State:     s.State.String(),
			CreatedAt: s.CreatedAt.Format(time.RFC3339),
			IdleSecs:  s.IdleTime().Seconds(),
		})
	}
	return out
}

func (l *Layer) removeSession(id string) {
	l.mu.Lock()
	delete(l.sessions, id)
	n := len(l.sessions)
	l.mu.Unlock()
	observability.SetActiveSessions(n)
}

// EstablishSession opens a session toward a remote endpoint. The CONNECT is
// sent and the session immediately advances to ESTABLISHED without waiting
// for the CONNECT_ACK.
func (l *Layer) EstablishSession(remoteAddr string, remotePort int) *Session {
	s := l.CreateSession()
	s.State = StateConnecting
	l.remoteAddr = remoteAddr
	l.remotePort = remotePort

	log := logging.Layer("session")
	log.Info().Str("session", s.ID).
		Str("remote", remoteAddr).Int("port", remotePort).Msg("establishing session")

	l.sendMessage(NewMessage(MessageConnect, s.ID, nil), remoteAddr, remotePort, l.localPort)

	s.State = StateEstablished
	return s
}

// AcceptSession registers an inbound session under the peer-supplied id and
// acknowledges it.
func (l *Layer) AcceptSession(id, remoteAddr string, remotePort int) *Session {
	s := NewSession(id)
	s.State = StateEstablished
	l.addSession(s)
	l.remoteAddr = remoteAddr
	l.remotePort = remotePort

	log := logging.Layer("session")
	log.Info().Str("session", id).
		Str("remote", remoteAddr).Int("port", remotePort).Msg("accepted session")

	l.sendMessage(NewMessage(MessageConnectAck, id, nil), remoteAddr, remotePort, l.localPort)
	return s
}

// SendData transmits payload over an established session. Refused with a log
// when the session is in any other state.
func (l *Layer) SendData(s *Session, data []byte) {
	log := logging.Layer("session")
	if !s.IsEstablished() {
		log.Warn().Str("session", s.ID).Str("state", s.State.String()).
			Msg("cannot send data, session not established")
		observability.RecordDrop("session", "not_established")
		return
	}

	log.Debug().Int("bytes", len(data)).Str("session", s.ID).Msg("sending data")
	s.Touch()
	l.sendMessage(NewMessage(MessageData, s.ID, data), l.remoteAddr, l.remotePort, l.localPort)
}

// CloseSession tears a session down. The DISCONNECT is sent and the session
// is removed immediately; no DISCONNECT_ACK is awaited.
func (l *Layer) CloseSession(s *Session) {
	log := logging.Layer("session")
	if s.State == StateClosed {
		log.Debug().Str("session", s.ID).Msg("session already closed")
		return
	}

	log.Info().Str("session", s.ID).Msg("closing session")
	s.State = StateDisconnecting
	l.sendMessage(NewMessage(MessageDisconnect, s.ID, nil), l.remoteAddr, l.remotePort, l.localPort)

	s.State = StateClosed
	l.removeSession(s.ID)
}

func (l *Layer) sendMessage(m Message, remoteAddr string, remotePort, localPort int) {
	b, err := m.Bytes()
	if err != nil {
		log := logging.Layer("session")
		log.Error().Err(err).Msg("message encode failed")
		observability.RecordDrop("session", "encode")
		return
	}
	observability.RecordSent("session")
	if lower := l.Lower(); lower != nil {
		lower.SendDown(b, stack.Metadata{
			RemoteAddr: remoteAddr,
			RemotePort: remotePort,
			LocalPort:  localPort,
		})
	}
}

// SendDown wraps payload in a DATA message, auto-creating a session when none
// is addressed but the caller supplied a remote endpoint.
func (l *Layer) SendDown(data []byte, md stack.Metadata) {
	log := logging.Layer("session")

	var s *Session
	if md.SessionID != "" {
		s = l.GetSession(md.SessionID)
	}
	if s == nil {
		if md.RemoteAddr == "" || md.RemotePort == 0 {
			log.Warn().Msg("no remote information, cannot establish session")
			observability.RecordDrop("session", "no_remote")
			return
		}
		s = l.EstablishSession(md.RemoteAddr, md.RemotePort)
	}

	l.SendData(s, data)
}

func (l *Layer) SendUp(data []byte, md stack.Metadata) {
	log := logging.Layer("session")

	m, err := ParseMessage(data)
	if err != nil {
		log.Warn().Err(err).Msg("malformed message, discarding")
		observability.RecordDrop("session", "malformed")
		return
	}
	log.Debug().Str("type", m.MsgType.String()).Str("session", m.SessionID).Msg("message received")

	if l.remoteAddr == "" {
		l.remoteAddr = md.RemoteAddr
	}
	if l.remotePort == 0 {
		l.remotePort = md.RemotePort
	}

	switch m.MsgType {
	case MessageConnect:
		l.AcceptSession(m.SessionID, md.RemoteAddr, md.RemotePort)

	case MessageConnectAck:
		s := l.GetSession(m.SessionID)
		if s == nil {
			log.Debug().Str("session", m.SessionID).Msg("no session for CONNECT_ACK")
			return
		}
		// Idempotent with the optimistic client-side transition.
		s.State = StateEstablished

	case MessageDisconnect:
		s := l.GetSession(m.SessionID)
		if s == nil {
			// Unknown id: no reply, no spurious table entry.
			log.Debug().Str("session", m.SessionID).Msg("no session for DISCONNECT")
			return
		}
		s.State = StateClosed
		l.sendMessage(NewMessage(MessageDisconnectAck, m.SessionID, nil),
			md.RemoteAddr, md.RemotePort, md.LocalPort)
		l.removeSession(m.SessionID)

	case MessageDisconnectAck:
		l.removeSession(m.SessionID)

	case MessageKeepalive:
		s := l.GetSession(m.SessionID)
		if s == nil {
			log.Debug().Str("session", m.SessionID).Msg("no session for KEEPALIVE")
			return
		}
		s.Touch()

	case MessageData:
		s := l.GetSession(m.SessionID)
		if s == nil {
			log.Debug().Str("session", m.SessionID).Msg("no session for DATA, discarding")
			observability.RecordDrop("session", "unknown_session")
			return
		}
		if !s.IsEstablished() {
			log.Warn().Str("session", s.ID).Msg("session not established, discarding data")
			observability.RecordDrop("session", "not_established")
			return
		}
		s.Touch()
		observability.RecordReceived("session")
		md.SessionID = m.SessionID
		if upper := l.Upper(); upper != nil {
			upper.SendUp(m.Data, md)
		}

	default:
		log.Warn().Int("type", int(m.MsgType)).Msg("unknown message type, discarding")
		observability.RecordDrop("session", "unknown_type")
	}
}
