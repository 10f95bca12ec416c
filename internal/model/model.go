package model

// IP protocol numbers for the transports the parser keeps separate tables for.
const (
	ProtocolICMP uint8 = 1
	ProtocolTCP  uint8 = 6
	ProtocolUDP  uint8 = 17
)

// IPv4Header holds the fields of a parsed IPv4 header in host byte order.
// HeaderLen is the IHL field, i.e. the header length in 32-bit words.
type IPv4Header struct {
	SrcAddr   uint32
	DstAddr   uint32
	Protocol  uint8
	HeaderLen uint8
	Length    uint16
	ID        uint16
	TTL       uint8
}

// TCPHeader holds the fields of a parsed TCP header in host byte order.
// DataOffset is the header length in 32-bit words.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8
	Flags      uint8
	Window     uint16
}

// TCP flag bits, matching the wire layout of the flags byte.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
	TCPFlagECE
	TCPFlagCWR
)

// UDPHeader holds the fields of a parsed UDP header in host byte order.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// ICMPHeader holds the type and code of a parsed ICMPv4 header.
type ICMPHeader struct {
	Type uint8
	Code uint8
}

// Fixed transport header sizes used by the payload size computations.
const (
	SizeUDPHeader  = 8
	SizeICMPHeader = 8
)

// Packet is one captured IPv4 datagram after link and IP validation.
// Exactly one of TCP/UDP/ICMP is non-nil for recognized transports; all three
// are nil when the inner protocol is unknown. Timestamp is capture time in
// microseconds and is the system's only notion of "now".
type Packet struct {
	Timestamp uint64
	IP        IPv4Header
	TCP       *TCPHeader
	UDP       *UDPHeader
	ICMP      *ICMPHeader
}
