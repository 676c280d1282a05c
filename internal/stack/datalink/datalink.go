// Package datalink frames payloads with hardware addresses and an integrity
// checksum for node-to-node transfer.
package datalink

import (
	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/observability"
	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/wire"
)

const BroadcastAddr = "ff:ff:ff:ff:ff:ff"

// Frame is the data link envelope.
type Frame struct {
	SrcMAC   string   `json:"src_mac"`
	DstMAC   string   `json:"dst_mac"`
	Checksum wire.Hex `json:"checksum"`
	Data     wire.Hex `json:"data"`
}

// NewFrame builds a frame, computing the payload checksum.
func NewFrame(srcMAC, dstMAC string, data []byte) Frame {
	return Frame{
		SrcMAC:   srcMAC,
		DstMAC:   dstMAC,
		Checksum: wire.Checksum(data),
		Data:     data,
	}
}

func (f Frame) Bytes() ([]byte, error) {
	return wire.Marshal(f)
}

func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := wire.Unmarshal(b, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Valid reports whether the carried checksum matches the payload.
func (f Frame) Valid() bool {
	return wire.VerifyChecksum(f.Data, f.Checksum)
}

// Layer is the data link layer. It owns this node's hardware address and the
// learned peer address.
type Layer struct {
	stack.Neighbors

	macAddress string
	peerMAC    string
}

// NewLayer creates a data link layer. An empty macAddress gets a random one.
func NewLayer(macAddress string) *Layer {
	if macAddress == "" {
		macAddress = wire.RandomMAC()
	}
	return &Layer{macAddress: macAddress}
}

func (l *Layer) Name() string { return "datalink" }

func (l *Layer) MACAddress() string { return l.macAddress }

// SetPeerMAC pins the destination hardware address for subsequent sends.
func (l *Layer) SetPeerMAC(mac string) { l.peerMAC = mac }

func (l *Layer) SendDown(data []byte, md stack.Metadata) {
	log := logging.Layer("datalink")

	dst := md.LinkAddr
	if dst == "" {
		dst = l.peerMAC
	}
	if dst == "" {
		// Stand-in for real address resolution: synthesize a peer and keep it.
		dst = wire.RandomMAC()
		l.peerMAC = dst
		log.Info().Str("dst_mac", dst).Msg("no destination MAC, using generated")
	}

	frame := NewFrame(l.macAddress, dst, data)
	b, err := frame.Bytes()
	if err != nil {
		log.Error().Err(err).Msg("frame encode failed")
		observability.RecordDrop("datalink", "encode")
		return
	}
	log.Debug().Str("src", l.macAddress).Str("dst", dst).Int("bytes", len(b)).Msg("frame created")
	observability.RecordSent("datalink")

	if lower := l.Lower(); lower != nil {
		lower.SendDown(b, md)
	}
}

func (l *Layer) SendUp(data []byte, md stack.Metadata) {
	log := logging.Layer("datalink")

	frame, err := ParseFrame(data)
	if err != nil {
		log.Warn().Err(err).Msg("malformed frame, discarding")
		observability.RecordDrop("datalink", "malformed")
		return
	}
	log.Debug().Str("src", frame.SrcMAC).Str("dst", frame.DstMAC).Msg("frame received")

	if !frame.Valid() {
		// Corrupt frames are dropped without notifying the sender.
		observability.RecordDrop("datalink", "checksum")
		log.Debug().Msg("invalid frame checksum, discarding")
		return
	}

	// Frames destined elsewhere are accepted anyway so the simulated link
	// always works; a strict implementation would drop them here.
	if frame.DstMAC != l.macAddress && frame.DstMAC != BroadcastAddr {
		log.Debug().Str("dst", frame.DstMAC).Msg("frame for another address, accepting")
	}

	if l.peerMAC == "" {
		l.peerMAC = frame.SrcMAC
		log.Debug().Str("peer", l.peerMAC).Msg("learned peer MAC")
	}

	observability.RecordReceived("datalink")
	md.LinkAddr = frame.SrcMAC
	if upper := l.Upper(); upper != nil {
		upper.SendUp(frame.Data, md)
	}
}
