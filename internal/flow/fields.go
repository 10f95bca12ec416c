package flow

// TrackedFields is the snapshot of header values captured for one packet.
// Only fields enabled by the flow's configuration (and relevant to its
// protocol) are present; reading any other field fails with
// ErrFieldNotTracked.
type TrackedFields struct {
	present FieldSet

	timestamp   uint64
	ipLen       uint16
	ipID        uint16
	ipTTL       uint8
	payloadSize uint16
	tcpFlags    uint8
	tcpSeq      uint32
	tcpAck      uint32
	tcpWin      uint16
	icmpType    uint8
	icmpCode    uint8
}

func (tf *TrackedFields) get(bit FieldSet) error {
	if tf.present&bit == 0 {
		return ErrFieldNotTracked
	}
	return nil
}

// Timestamp returns the capture time of the packet in microseconds.
func (tf *TrackedFields) Timestamp() (uint64, error) {
	return tf.timestamp, tf.get(FieldTimestamp)
}

// IPLen returns the total length field of the IP header.
func (tf *TrackedFields) IPLen() (uint16, error) {
	return tf.ipLen, tf.get(FieldIPLen)
}

// IPID returns the identification field of the IP header.
func (tf *TrackedFields) IPID() (uint16, error) {
	return tf.ipID, tf.get(FieldIPID)
}

// IPTTL returns the TTL field of the IP header.
func (tf *TrackedFields) IPTTL() (uint8, error) {
	return tf.ipTTL, tf.get(FieldIPTTL)
}

// PayloadSize returns the transport payload size derived at ingestion.
func (tf *TrackedFields) PayloadSize() (uint16, error) {
	return tf.payloadSize, tf.get(FieldPayloadSize)
}

// TCPFlags returns the flags byte of the TCP header.
func (tf *TrackedFields) TCPFlags() (uint8, error) {
	return tf.tcpFlags, tf.get(FieldTCPFlags)
}

// TCPSeq returns the sequence number of the TCP header.
func (tf *TrackedFields) TCPSeq() (uint32, error) {
	return tf.tcpSeq, tf.get(FieldTCPSeq)
}

// TCPAck returns the acknowledgment number of the TCP header.
func (tf *TrackedFields) TCPAck() (uint32, error) {
	return tf.tcpAck, tf.get(FieldTCPAck)
}

// TCPWin returns the window field of the TCP header.
func (tf *TrackedFields) TCPWin() (uint16, error) {
	return tf.tcpWin, tf.get(FieldTCPWin)
}

// ICMPType returns the type field of the ICMP header.
func (tf *TrackedFields) ICMPType() (uint8, error) {
	return tf.icmpType, tf.get(FieldICMPType)
}

// ICMPCode returns the code field of the ICMP header.
func (tf *TrackedFields) ICMPCode() (uint8, error) {
	return tf.icmpCode, tf.get(FieldICMPCode)
}

// Iterator replays a flow's field history one packet at a time, in arrival
// order. It is a single forward pass over the history as it stood when the
// iterator was created; it cannot be restarted.
type Iterator struct {
	f    *Flow
	n    int
	next int
}

// Next returns the tracked fields of the next packet. It returns false once
// the history is exhausted.
func (it *Iterator) Next() (TrackedFields, bool) {
	if it.next >= it.n {
		return TrackedFields{}, false
	}

	i := it.next
	it.next++

	f := it.f
	tf := TrackedFields{present: f.present, timestamp: f.timestamps[i]}

	if f.present&FieldIPLen != 0 {
		tf.ipLen = f.ipLen[i]
	}
	if f.present&FieldIPID != 0 {
		tf.ipID = f.ipID[i]
	}
	if f.present&FieldIPTTL != 0 {
		tf.ipTTL = f.ipTTL[i]
	}
	if f.present&FieldPayloadSize != 0 {
		tf.payloadSize = f.payloadSize[i]
	}
	if f.present&FieldTCPFlags != 0 {
		tf.tcpFlags = f.tcpFlags[i]
	}
	if f.present&FieldTCPSeq != 0 {
		tf.tcpSeq = f.tcpSeq[i]
	}
	if f.present&FieldTCPAck != 0 {
		tf.tcpAck = f.tcpAck[i]
	}
	if f.present&FieldTCPWin != 0 {
		tf.tcpWin = f.tcpWin[i]
	}
	if f.present&FieldICMPType != 0 {
		tf.icmpType = f.icmpType[i]
	}
	if f.present&FieldICMPCode != 0 {
		tf.icmpCode = f.icmpCode[i]
	}

	return tf, true
}
