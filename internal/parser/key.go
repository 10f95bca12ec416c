package parser

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/sangyf/flowparser/internal/model"
)

// FlowKey indexes a flow by its 4-tuple, in host byte order. Source and
// destination are deliberately not canonicalized: the two directions of a
// connection produce distinct keys and distinct flows. The key does not
// encode the protocol; each protocol has its own table.
type FlowKey struct {
	SrcAddr uint32
	DstAddr uint32
	SrcPort uint16
	DstPort uint16
}

// KeyFromTCP builds the key for a TCP segment.
func KeyFromTCP(ip *model.IPv4Header, tcp *model.TCPHeader) FlowKey {
	return FlowKey{
		SrcAddr: ip.SrcAddr,
		DstAddr: ip.DstAddr,
		SrcPort: tcp.SrcPort,
		DstPort: tcp.DstPort,
	}
}

// KeyFromUDP builds the key for a UDP datagram.
func KeyFromUDP(ip *model.IPv4Header, udp *model.UDPHeader) FlowKey {
	return FlowKey{
		SrcAddr: ip.SrcAddr,
		DstAddr: ip.DstAddr,
		SrcPort: udp.SrcPort,
		DstPort: udp.DstPort,
	}
}

// KeyFromIP builds the key for a packet without ports (ICMP or unknown).
func KeyFromIP(ip *model.IPv4Header) FlowKey {
	return FlowKey{SrcAddr: ip.SrcAddr, DstAddr: ip.DstAddr}
}

// Hash returns a stable FNV-1a hash of the key.
func (k FlowKey) Hash() uint32 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], k.SrcAddr)
	binary.BigEndian.PutUint32(buf[4:8], k.DstAddr)
	binary.BigEndian.PutUint16(buf[8:10], k.SrcPort)
	binary.BigEndian.PutUint16(buf[10:12], k.DstPort)

	hasher := fnv.New32a()
	hasher.Write(buf[:])
	return hasher.Sum32()
}

// SrcIP returns the source address in dotted-quad form.
func (k FlowKey) SrcIP() string {
	return ipString(k.SrcAddr)
}

// DstIP returns the destination address in dotted-quad form.
func (k FlowKey) DstIP() string {
	return ipString(k.DstAddr)
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", k.SrcIP(), k.SrcPort, k.DstIP(), k.DstPort)
}

func ipString(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
