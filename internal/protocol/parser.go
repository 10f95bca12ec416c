package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/sangyf/flowparser/internal/model"
)

// ParsePacket uses gopacket to decode a captured packet into the header views
// the flow parser ingests. Values are host byte order; the capture timestamp
// is converted to microseconds.
func ParsePacket(packet gopacket.Packet) (*model.Packet, error) {
	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, fmt.Errorf("not an IPv4 packet")
	}
	ip := l.(*layers.IPv4)

	pkt := &model.Packet{
		IP: model.IPv4Header{
			SrcAddr:   addrToHost(ip.SrcIP.To4()),
			DstAddr:   addrToHost(ip.DstIP.To4()),
			Protocol:  uint8(ip.Protocol),
			HeaderLen: ip.IHL,
			Length:    ip.Length,
			ID:        ip.Id,
			TTL:       ip.TTL,
		},
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		pkt.Timestamp = uint64(meta.Timestamp.UnixMicro())
	}

	switch ip.Protocol {
	case layers.IPProtocolTCP:
		l := packet.Layer(layers.LayerTypeTCP)
		if l == nil {
			return nil, fmt.Errorf("IP protocol is TCP but no TCP layer decoded")
		}
		tcp := l.(*layers.TCP)
		pkt.TCP = &model.TCPHeader{
			SrcPort:    uint16(tcp.SrcPort),
			DstPort:    uint16(tcp.DstPort),
			Seq:        tcp.Seq,
			Ack:        tcp.Ack,
			DataOffset: tcp.DataOffset,
			Flags:      tcpFlags(tcp),
			Window:     tcp.Window,
		}
	case layers.IPProtocolUDP:
		l := packet.Layer(layers.LayerTypeUDP)
		if l == nil {
			return nil, fmt.Errorf("IP protocol is UDP but no UDP layer decoded")
		}
		udp := l.(*layers.UDP)
		pkt.UDP = &model.UDPHeader{
			SrcPort: uint16(udp.SrcPort),
			DstPort: uint16(udp.DstPort),
			Length:  udp.Length,
		}
	case layers.IPProtocolICMPv4:
		l := packet.Layer(layers.LayerTypeICMPv4)
		if l == nil {
			return nil, fmt.Errorf("IP protocol is ICMP but no ICMP layer decoded")
		}
		icmp := l.(*layers.ICMPv4)
		pkt.ICMP = &model.ICMPHeader{
			Type: icmp.TypeCode.Type(),
			Code: icmp.TypeCode.Code(),
		}
	default:
		// Unknown transport: the IP header alone is enough for the parser.
	}

	return pkt, nil
}

func addrToHost(addr []byte) uint32 {
	if len(addr) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(addr)
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= model.TCPFlagFIN
	}
	if tcp.SYN {
		flags |= model.TCPFlagSYN
	}
	if tcp.RST {
		flags |= model.TCPFlagRST
	}
	if tcp.PSH {
		flags |= model.TCPFlagPSH
	}
	if tcp.ACK {
		flags |= model.TCPFlagACK
	}
	if tcp.URG {
		flags |= model.TCPFlagURG
	}
	if tcp.ECE {
		flags |= model.TCPFlagECE
	}
	if tcp.CWR {
		flags |= model.TCPFlagCWR
	}
	return flags
}
