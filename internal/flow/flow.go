package flow

import (
	"math"

	"github.com/sangyf/flowparser/internal/model"
)

// noRx marks a flow (or estimator) that has not received a packet yet.
const noRx = math.MaxUint64

// NoRx is the last-receive value reported by a flow before its first packet.
const NoRx = noRx

// State is the lifecycle state of a flow.
type State uint8

const (
	// StateActive means the flow accepts packets.
	StateActive State = iota
	// StatePassive means the flow has been finalized and is frozen.
	StatePassive
)

// Flow aggregates the packets of one 4-tuple in one direction. It owns the
// per-field history, running totals, per-period averages and, for TCP, the
// rate estimator. The flow does not know its own key; the parser's table
// holds it. The flow carries no lock of its own: callers serialize access.
type Flow struct {
	proto   uint8
	state   State
	cfg     *Config
	present FieldSet

	// Capture-time microseconds. firstRx is the creation time; lastRx stays
	// at NoRx until the first packet.
	firstRx uint64
	lastRx  uint64
	timeout uint64

	pktsSeen     uint64
	totalIPLen   uint64
	totalPayload uint64

	// Storage consumed by the field history, for memory accounting.
	sizeBytes int

	// Counters since the previous UpdateAverages call, and the smoothed
	// per-period averages they fold into.
	pktsThisPeriod  uint64
	bytesThisPeriod uint64
	avgPkts         float64
	avgBytes        float64

	// Field history: parallel slices indexed by packet number. Only the
	// slices of tracked fields ever grow; tracked slices all share the same
	// length, equal to pktsSeen.
	timestamps  []uint64
	ipLen       []uint16
	ipID        []uint16
	ipTTL       []uint8
	payloadSize []uint16
	tcpFlags    []uint8
	tcpSeq      []uint32
	tcpAck      []uint32
	tcpWin      []uint16
	icmpType    []uint8
	icmpCode    []uint8

	// Only TCP flows carry an estimator.
	est *TCPRateEstimator
}

// New creates an active flow bound to the given protocol. Timestamp is the
// creation time in capture microseconds; timeout is the inactivity budget in
// the same units. The config is shared by reference and must not be mutated.
func New(proto uint8, timestamp, timeout uint64, cfg *Config) *Flow {
	f := &Flow{
		proto:   proto,
		state:   StateActive,
		cfg:     cfg,
		present: (cfg.Fields | FieldTimestamp) & relevantFields(proto),
		firstRx: timestamp,
		lastRx:  noRx,
		timeout: timeout,
	}
	if proto == model.ProtocolTCP {
		f.est = NewTCPRateEstimator(timestamp, cfg.Alpha)
	}
	return f
}

// ipReceive is the common ingestion path shared by all protocols. It
// validates the flow state, records the timestamp and the configured IP
// fields, and bumps the per-packet counters.
func (f *Flow) ipReceive(ip *model.IPv4Header, timestamp uint64) error {
	if f.state != StateActive {
		return ErrInvalidState
	}
	if ip.Protocol != f.proto {
		return ErrProtocolMismatch
	}

	f.timestamps = append(f.timestamps, timestamp)
	f.sizeBytes += 8

	f.totalIPLen += uint64(ip.Length)
	f.bytesThisPeriod += uint64(ip.Length)

	if f.present&FieldIPLen != 0 {
		f.ipLen = append(f.ipLen, ip.Length)
		f.sizeBytes += 2
	}
	if f.present&FieldIPID != 0 {
		f.ipID = append(f.ipID, ip.ID)
		f.sizeBytes += 2
	}
	if f.present&FieldIPTTL != 0 {
		f.ipTTL = append(f.ipTTL, ip.TTL)
		f.sizeBytes++
	}

	f.pktsSeen++
	f.pktsThisPeriod++
	return nil
}

func (f *Flow) recordPayload(payload uint16) {
	f.totalPayload += uint64(payload)
	if f.present&FieldPayloadSize != 0 {
		f.payloadSize = append(f.payloadSize, payload)
		f.sizeBytes += 2
	}
}

// ReceiveTCP ingests one TCP segment. It returns the number of storage bytes
// the flow's history grew by.
func (f *Flow) ReceiveTCP(ip *model.IPv4Header, tcp *model.TCPHeader, timestamp uint64) (int, error) {
	before := f.sizeBytes
	if err := f.ipReceive(ip, timestamp); err != nil {
		return 0, err
	}

	headerBytes := (uint16(ip.HeaderLen) + uint16(tcp.DataOffset)) * 4
	payload := ip.Length - headerBytes
	f.recordPayload(payload)

	if f.present&FieldTCPFlags != 0 {
		f.tcpFlags = append(f.tcpFlags, tcp.Flags)
		f.sizeBytes++
	}
	if f.present&FieldTCPSeq != 0 {
		f.tcpSeq = append(f.tcpSeq, tcp.Seq)
		f.sizeBytes += 4
	}
	if f.present&FieldTCPAck != 0 {
		f.tcpAck = append(f.tcpAck, tcp.Ack)
		f.sizeBytes += 4
	}
	if f.present&FieldTCPWin != 0 {
		f.tcpWin = append(f.tcpWin, tcp.Window)
		f.sizeBytes += 2
	}

	f.est.Update(tcp.Seq, uint32(payload), timestamp)
	f.lastRx = timestamp
	return f.sizeBytes - before, nil
}

// ReceiveUDP ingests one UDP datagram.
func (f *Flow) ReceiveUDP(ip *model.IPv4Header, _ *model.UDPHeader, timestamp uint64) (int, error) {
	before := f.sizeBytes
	if err := f.ipReceive(ip, timestamp); err != nil {
		return 0, err
	}

	headerBytes := uint16(ip.HeaderLen)*4 - model.SizeUDPHeader
	f.recordPayload(ip.Length - headerBytes)

	f.lastRx = timestamp
	return f.sizeBytes - before, nil
}

// ReceiveICMP ingests one ICMP message.
func (f *Flow) ReceiveICMP(ip *model.IPv4Header, icmp *model.ICMPHeader, timestamp uint64) (int, error) {
	before := f.sizeBytes
	if err := f.ipReceive(ip, timestamp); err != nil {
		return 0, err
	}

	headerBytes := uint16(ip.HeaderLen)*4 - model.SizeICMPHeader
	f.recordPayload(ip.Length - headerBytes)

	if f.present&FieldICMPType != 0 {
		f.icmpType = append(f.icmpType, icmp.Type)
		f.sizeBytes++
	}
	if f.present&FieldICMPCode != 0 {
		f.icmpCode = append(f.icmpCode, icmp.Code)
		f.sizeBytes++
	}

	f.lastRx = timestamp
	return f.sizeBytes - before, nil
}

// ReceiveUnknown ingests a packet whose inner protocol is not recognized.
// The payload size will be off since the transport header size is unknown.
func (f *Flow) ReceiveUnknown(ip *model.IPv4Header, timestamp uint64) (int, error) {
	before := f.sizeBytes
	if err := f.ipReceive(ip, timestamp); err != nil {
		return 0, err
	}

	f.recordPayload(ip.Length - uint16(ip.HeaderLen)*4)

	f.lastRx = timestamp
	return f.sizeBytes - before, nil
}

// UpdateAverages folds the packet and byte counts accumulated since the
// previous call into the smoothed per-period averages and resets the
// counters. Calling it with no traffic still decays the averages.
func (f *Flow) UpdateAverages() {
	alpha := f.cfg.Alpha
	f.avgPkts = (1-alpha)*f.avgPkts + alpha*float64(f.pktsThisPeriod)
	f.avgBytes = (1-alpha)*f.avgBytes + alpha*float64(f.bytesThisPeriod)
	f.pktsThisPeriod = 0
	f.bytesThisPeriod = 0
}

// TimeLeft returns the remaining inactivity budget at the given capture time,
// or -1 for a flow that has never received a packet.
func (f *Flow) TimeLeft(now uint64) int64 {
	if f.lastRx == noRx {
		return -1
	}
	return int64(f.timeout) - (int64(now) - int64(f.lastRx))
}

// Finalize freezes the flow. Any later ingestion fails with ErrInvalidState.
func (f *Flow) Finalize() {
	f.state = StatePassive
}

// State returns the flow's lifecycle state.
func (f *Flow) State() State {
	return f.state
}

// Protocol returns the IP protocol the flow was bound to at creation.
func (f *Flow) Protocol() uint8 {
	return f.proto
}

// RateEstimator returns the flow's TCP rate estimator, or nil for non-TCP
// flows.
func (f *Flow) RateEstimator() *TCPRateEstimator {
	return f.est
}

// SizeBytes returns the storage consumed by the flow's field history.
func (f *Flow) SizeBytes() int {
	return f.sizeBytes
}

// History returns a single-pass iterator over the flow's field history in
// arrival order.
func (f *Flow) History() *Iterator {
	return &Iterator{f: f, n: len(f.timestamps)}
}

// Info is a point-in-time summary of a flow.
type Info struct {
	FirstRx           uint64
	LastRx            uint64
	PktsSeen          uint64
	TotalIPLen        uint64
	TotalPayload      uint64
	AvgPktsPerPeriod  float64
	AvgBytesPerPeriod float64
	SizeBytes         int
}

// Info returns a summary of the flow's counters and averages.
func (f *Flow) Info() Info {
	return Info{
		FirstRx:           f.firstRx,
		LastRx:            f.lastRx,
		PktsSeen:          f.pktsSeen,
		TotalIPLen:        f.totalIPLen,
		TotalPayload:      f.totalPayload,
		AvgPktsPerPeriod:  f.avgPkts,
		AvgBytesPerPeriod: f.avgBytes,
		SizeBytes:         f.sizeBytes,
	}
}
