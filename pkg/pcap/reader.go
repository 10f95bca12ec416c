// Package pcap reads packets from capture files or live interfaces and turns
// them into the header views the flow parser ingests.
package pcap

import (
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/sangyf/flowparser/internal/model"
	"github.com/sangyf/flowparser/internal/protocol"
)

// Reader reads packets from a pcap handle.
type Reader struct {
	handle *pcap.Handle
}

// NewReader creates a reader over a capture file.
func NewReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, err
	}
	return &Reader{handle: handle}, nil
}

// NewLiveReader creates a reader capturing from a network interface.
func NewLiveReader(iface string, snapshotLen int32, promiscuous bool) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, err
	}
	return &Reader{handle: handle}, nil
}

// Close closes the pcap handle.
func (r *Reader) Close() {
	r.handle.Close()
}

// ReadPackets parses every packet from the handle and sends it to out. Errors
// from the parser are logged and the packet skipped; unsupported packet types
// are common in captures. The channel is left open for the caller to close.
func (r *Reader) ReadPackets(out chan<- *model.Packet) {
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range packetSource.Packets() {
		pkt, err := protocol.ParsePacket(packet)
		if err != nil {
			log.Printf("Error parsing packet: %v", err)
			continue
		}
		out <- pkt
	}
}
