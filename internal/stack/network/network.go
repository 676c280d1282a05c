// Package network wraps payloads with logical addresses and a hop limit, and
// consults the routing table before forwarding.
package network

import (
	"github.com/osistack/osistack/internal/logging"
	"github.com/osistack/osistack/internal/observability"
	"github.com/osistack/osistack/internal/stack"
	"github.com/osistack/osistack/internal/wire"
)

// ProtocolTCP is the only transport protocol number carried by this stack.
const ProtocolTCP = 6

const defaultHopLimit = 64

// Packet is the network envelope.
type Packet struct {
	SrcIP    string   `json:"src_ip"`
	DstIP    string   `json:"dst_ip"`
	TTL      int      `json:"ttl"`
	Protocol int      `json:"protocol"`
	Data     wire.Hex `json:"data"`
}

func NewPacket(srcIP, dstIP string, protocol int, data []byte) Packet {
	return Packet{
		SrcIP:    srcIP,
		DstIP:    dstIP,
		TTL:      defaultHopLimit,
		Protocol: protocol,
		Data:     data,
	}
}

func (p Packet) Bytes() ([]byte, error) {
	return wire.Marshal(p)
}

func ParsePacket(b []byte) (Packet, error) {
	var p Packet
	if err := wire.Unmarshal(b, &p); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// Route is one routing table entry.
type Route struct {
	Network   string
	Netmask   string
	Gateway   string
	Interface string
}

// RoutingTable is an ordered sequence of routes.
type RoutingTable struct {
	routes []Route
}

func (t *RoutingTable) AddRoute(r Route) {
	t.routes = append(t.routes, r)
}

// GetRoute returns the route for dst. Simplified policy, preserved on
// purpose: the first entry wins regardless of destination. Real
// longest-prefix matching is out of scope for this single-node model.
func (t *RoutingTable) GetRoute(dst string) (Route, bool) {
	if len(t.routes) == 0 {
		return Route{}, false
	}
	return t.routes[0], true
}

// Layer is the network layer. It owns this node's logical address and the
// routing table.
type Layer struct {
	stack.Neighbors

	ipAddress string
	peerIP    string
	routes    *RoutingTable
}

// NewLayer creates a network layer. An empty ipAddress gets a random one.
// The table starts with a default route.
func NewLayer(ipAddress string) *Layer {
	if ipAddress == "" {
		ipAddress = wire.RandomIP()
	}
	routes := &RoutingTable{}
	routes.AddRoute(Route{Network: "0.0.0.0", Netmask: "0.0.0.0", Gateway: "192.168.1.1", Interface: "eth0"})
	return &Layer{ipAddress: ipAddress, routes: routes}
}

func (l *Layer) Name() string { return "network" }

func (l *Layer) IPAddress() string { return l.ipAddress }

// SetPeerIP pins the destination logical address for subsequent sends.
func (l *Layer) SetPeerIP(ip string) { l.peerIP = ip }

// Routes exposes the routing table for configuration.
func (l *Layer) Routes() *RoutingTable { return l.routes }

func (l *Layer) SendDown(data []byte, md stack.Metadata) {
	log := logging.Layer("network")

	dst := md.NetAddr
	if dst == "" {
		dst = l.peerIP
	}
	if dst == "" {
		dst = wire.RandomIP()
		log.Info().Str("dst_ip", dst).Msg("no destination IP, using generated")
	}

	protocol := md.Protocol
	if protocol == 0 {
		protocol = ProtocolTCP
	}

	packet := NewPacket(l.ipAddress, dst, protocol, data)
	b, err := packet.Bytes()
	if err != nil {
		log.Error().Err(err).Msg("packet encode failed")
		observability.RecordDrop("network", "encode")
		return
	}
	log.Debug().Str("src", l.ipAddress).Str("dst", dst).Int("bytes", len(b)).Msg("packet created")

	if _, ok := l.routes.GetRoute(dst); !ok {
		log.Warn().Str("dst", dst).Msg("no route, discarding")
		observability.RecordDrop("network", "no_route")
		return
	}

	observability.RecordSent("network")
	if lower := l.Lower(); lower != nil {
		lower.SendDown(b, md)
	}
}

func (l *Layer) SendUp(data []byte, md stack.Metadata) {
	log := logging.Layer("network")

	packet, err := ParsePacket(data)
	if err != nil {
		log.Warn().Err(err).Msg("malformed packet, discarding")
		observability.RecordDrop("network", "malformed")
		return
	}
	log.Debug().Str("src", packet.SrcIP).Str("dst", packet.DstIP).
		Int("ttl", packet.TTL).Int("protocol", packet.Protocol).Msg("packet received")

	// Single-node simulation: no forwarding toward other hops.
	if packet.DstIP != l.ipAddress {
		log.Debug().Str("dst", packet.DstIP).Msg("packet for another address, discarding")
		observability.RecordDrop("network", "not_for_us")
		return
	}

	if l.peerIP == "" {
		l.peerIP = packet.SrcIP
		log.Debug().Str("peer", l.peerIP).Msg("learned peer IP")
	}

	observability.RecordReceived("network")
	md.NetAddr = packet.SrcIP
	md.Protocol = packet.Protocol
	if upper := l.Upper(); upper != nil {
		upper.SendUp(packet.Data, md)
	}
}
