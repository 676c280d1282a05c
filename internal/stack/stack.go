// Package stack owns the layer pipeline contract.
//
// Ownership boundary:
// - the Layer interface every protocol layer implements
// - non-owning neighbor links between adjacent layers
// - the Metadata record layers pass alongside payload bytes
package stack

// Metadata travels with a payload between adjacent layers. Each layer reads
// and writes only the fields it owns; everything else passes through.
type Metadata struct {
	// Data link peer hardware address.
	LinkAddr string
	// Network peer logical address. On the way down this is the destination;
	// on the way up it is the sender.
	NetAddr string
	// IP protocol number carried by network packets.
	Protocol int

	// Transport addressing.
	LocalPort  int
	RemotePort int
	RemoteAddr string

	// Session identity.
	SessionID string

	// Presentation data format tag.
	DataFormat int
}

// Layer is one member of the pipeline. SendDown encapsulates outgoing data
// toward the medium; SendUp decapsulates received data toward the application.
type Layer interface {
	Name() string
	SendDown(data []byte, md Metadata)
	SendUp(data []byte, md Metadata)
}

// Linkable is satisfied by layers embedding Neighbors.
type Linkable interface {
	Layer
	SetUpper(Layer)
	SetLower(Layer)
}

// Neighbors holds the non-owning adjacency links of a layer. The chain is
// built once at stack construction and never mutated afterward.
type Neighbors struct {
	upper Layer
	lower Layer
}

func (n *Neighbors) SetUpper(l Layer) { n.upper = l }
func (n *Neighbors) SetLower(l Layer) { n.lower = l }

// Upper returns the layer above, or nil at the top of the chain.
func (n *Neighbors) Upper() Layer { return n.upper }

// Lower returns the layer below, or nil at the bottom of the chain.
func (n *Neighbors) Lower() Layer { return n.lower }

// Link wires a chain of layers ordered bottom-up: layers[0] is closest to the
// medium, layers[len-1] is the application end.
func Link(layers ...Linkable) {
	for i := 0; i < len(layers)-1; i++ {
		layers[i].SetUpper(layers[i+1])
		layers[i+1].SetLower(layers[i])
	}
}
