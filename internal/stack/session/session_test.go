package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/testutil/testlog"
)

type captureLayer struct {
	stack.Neighbors
	downs  [][]byte
	downMD []stack.Metadata
	ups    [][]byte
	upMD   []stack.Metadata
}

func (c *captureLayer) Name() string { return "capture" }

func (c *captureLayer) SendDown(data []byte, md stack.Metadata) {
	c.downs = append(c.downs, data)
	c.downMD = append(c.downMD, md)
}

func (c *captureLayer) SendUp(data []byte, md stack.Metadata) {
	c.ups = append(c.ups, data)
	c.upMD = append(c.upMD, md)
}

func (c *captureLayer) messages(t *testing.T) []Message {
	t.Helper()
	out := make([]Message, 0, len(c.downs))
	for _, b := range c.downs {
		m, err := ParseMessage(b)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func newTestLayer() (*Layer, *captureLayer, *captureLayer) {
	l := NewLayer()
	lower := &captureLayer{}
	upper := &captureLayer{}
	stack.Link(lower, l, upper)
	return l, lower, upper
}

func TestMessageRoundTrip(t *testing.T) {
	in := NewMessage(MessageData, "abc-123", []byte("payload"))
	b, err := in.Bytes()
	require.NoError(t, err)
	out, err := ParseMessage(b)
	require.NoError(t, err)
	assert.Equal(t, MessageData, out.MsgType)
	assert.Equal(t, "abc-123", out.SessionID)
	assert.Equal(t, []byte("payload"), []byte(out.Data))
	assert.InDelta(t, in.Timestamp, out.Timestamp, 1e-6)
}

func TestEstablishSessionIsOptimistic(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	s := l.EstablishSession("10.0.0.1", 80)

	require.NotNil(t, s)
	assert.Equal(t, StateEstablished, s.State, "establishment does not wait for CONNECT_ACK")
	assert.NotEmpty(t, s.ID)
	assert.Same(t, s, l.GetSession(s.ID))

	msgs := lower.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageConnect, msgs[0].MsgType)
	assert.Equal(t, s.ID, msgs[0].SessionID)
}

func TestSessionIDsAreUnique(t *testing.T) {
	testlog.Start(t)
	l, _, _ := newTestLayer()

	a := l.CreateSession()
	b := l.CreateSession()
	assert.NotEqual(t, a.ID, b.ID)
}

func TestInboundConnectAccepted(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	m := NewMessage(MessageConnect, "peer-session", nil)
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{RemoteAddr: "10.0.0.2", RemotePort: 49152, LocalPort: 80})

	s := l.GetSession("peer-session")
	require.NotNil(t, s, "session registered under the peer-supplied id")
	assert.Equal(t, StateEstablished, s.State)

	msgs := lower.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageConnectAck, msgs[0].MsgType)
	assert.Equal(t, "peer-session", msgs[0].SessionID)
}

func TestConnectAckForUnknownSessionIgnored(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	m := NewMessage(MessageConnectAck, "never-seen", nil)
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{})

	assert.Empty(t, lower.downs)
	assert.Nil(t, l.GetSession("never-seen"))
}

func TestSendDataRefusedWhenNotEstablished(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	s := l.CreateSession()
	s.State = StateConnecting
	l.SendData(s, []byte("too early"))
	assert.Empty(t, lower.downs)

	s.State = StateClosed
	l.SendData(s, []byte("still refused"))
	assert.Empty(t, lower.downs)
}

func TestSendDataWrapsPayload(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	s := l.EstablishSession("10.0.0.1", 80)
	lower.downs = nil

	before := s.LastActivity
	time.Sleep(time.Millisecond)
	l.SendData(s, []byte("hello"))

	msgs := lower.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageData, msgs[0].MsgType)
	assert.Equal(t, []byte("hello"), []byte(msgs[0].Data))
	assert.True(t, s.LastActivity.After(before), "sending counts as activity")
}

func TestInboundDataDelivered(t *testing.T) {
	testlog.Start(t)
	l, _, upper := newTestLayer()

	s := NewSession("sess-1")
	s.State = StateEstablished
	l.addSession(s)

	m := NewMessage(MessageData, "sess-1", []byte("payload"))
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{RemoteAddr: "10.0.0.2", RemotePort: 49152})

	require.Len(t, upper.ups, 1)
	assert.Equal(t, []byte("payload"), upper.ups[0])
	assert.Equal(t, "sess-1", upper.upMD[0].SessionID)
}

func TestInboundDataForUnknownSessionDropped(t *testing.T) {
	testlog.Start(t)
	l, lower, upper := newTestLayer()

	m := NewMessage(MessageData, "nobody", []byte("payload"))
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{})

	assert.Empty(t, upper.ups)
	assert.Empty(t, lower.downs)
}

func TestCloseSessionIsOptimistic(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	s := l.EstablishSession("10.0.0.1", 80)
	id := s.ID
	lower.downs = nil

	l.CloseSession(s)

	assert.Equal(t, StateClosed, s.State)
	assert.Nil(t, l.GetSession(id), "no DISCONNECT_ACK is awaited")

	msgs := lower.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageDisconnect, msgs[0].MsgType)
}

func TestInboundDisconnectAcknowledged(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	s := NewSession("sess-1")
	s.State = StateEstablished
	l.addSession(s)

	m := NewMessage(MessageDisconnect, "sess-1", nil)
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{RemoteAddr: "10.0.0.2", RemotePort: 49152, LocalPort: 80})

	assert.Nil(t, l.GetSession("sess-1"))

	msgs := lower.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageDisconnectAck, msgs[0].MsgType)
}

func TestDisconnectUnknownSessionNoReply(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	m := NewMessage(MessageDisconnect, "stale-id", nil)
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{RemoteAddr: "10.0.0.2", RemotePort: 49152})

	assert.Empty(t, lower.downs, "unknown DISCONNECT gets no acknowledgment")
	assert.Nil(t, l.GetSession("stale-id"), "and creates no table entry")
}

func TestKeepaliveTouchesSession(t *testing.T) {
	testlog.Start(t)
	l, _, _ := newTestLayer()

	s := NewSession("sess-1")
	s.State = StateEstablished
	l.addSession(s)
	before := s.LastActivity
	time.Sleep(time.Millisecond)

	m := NewMessage(MessageKeepalive, "sess-1", nil)
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{})

	assert.True(t, s.LastActivity.After(before))
}

func TestUnknownMessageTypeDropped(t *testing.T) {
	testlog.Start(t)
	l, lower, upper := newTestLayer()

	m := Message{MsgType: 99, SessionID: "sess-1"}
	b, err := m.Bytes()
	require.NoError(t, err)
	l.SendUp(b, stack.Metadata{})

	assert.Empty(t, upper.ups)
	assert.Empty(t, lower.downs)
}

func TestSendDownAutoEstablishes(t *testing.T) {
	testlog.Start(t)
	l, lower, _ := newTestLayer()

	l.SendDown([]byte("payload"), stack.Metadata{RemoteAddr: "10.0.0.1", RemotePort: 80})

	msgs := lower.messages(t)
	require.Len(t, msgs, 2, "CONNECT then DATA")
	assert.Equal(t, MessageConnect, msgs[0].MsgType)
	assert.Equal(t, MessageData, msgs[1].MsgType)
	assert.Equal(t, msgs[0].SessionID, msgs[1].SessionID)
}

func TestSessionSideData(t *testing.T) {
	s := NewSession("")
	assert.Nil(t, s.GetData("missing"))
	s.SetData("user", "alice")
	assert.Equal(t, "alice", s.GetData("user"))
}
