package flow

import (
	"math/rand"

	"github.com/sangyf/flowparser/internal/model"
)

// pktGen produces random but well-formed headers for tests.
type pktGen struct {
	rng *rand.Rand
}

func newPktGen(seed int64) *pktGen {
	return &pktGen{rng: rand.New(rand.NewSource(seed))}
}

func (g *pktGen) ipHeader(proto uint8) model.IPv4Header {
	return model.IPv4Header{
		SrcAddr:   g.rng.Uint32(),
		DstAddr:   g.rng.Uint32(),
		Protocol:  proto,
		HeaderLen: 5,
		Length:    uint16(40 + g.rng.Intn(1460)),
		ID:        uint16(g.rng.Uint32()),
		TTL:       uint8(g.rng.Intn(256)),
	}
}

func (g *pktGen) tcpHeader() model.TCPHeader {
	return model.TCPHeader{
		SrcPort:    uint16(g.rng.Uint32()),
		DstPort:    uint16(g.rng.Uint32()),
		Seq:        g.rng.Uint32(),
		Ack:        g.rng.Uint32(),
		DataOffset: 5,
		Flags:      uint8(g.rng.Intn(256)),
		Window:     uint16(g.rng.Uint32()),
	}
}

func (g *pktGen) icmpHeader() model.ICMPHeader {
	return model.ICMPHeader{
		Type: uint8(g.rng.Intn(256)),
		Code: uint8(g.rng.Intn(256)),
	}
}
