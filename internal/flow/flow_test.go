package flow

import (
	"errors"
	"math"
	"testing"

	"github.com/sangyf/flowparser/internal/model"
)

const (
	initTimestamp  uint64 = 10000
	defaultTimeout uint64 = 1000
)

func newTCPFlow() *Flow {
	return New(model.ProtocolTCP, initTimestamp, defaultTimeout, DefaultConfig())
}

func TestInfoInit(t *testing.T) {
	f := newTCPFlow()

	info := f.Info()

	if info.AvgBytesPerPeriod != 0 || info.AvgPktsPerPeriod != 0 {
		t.Errorf("Expected zero averages on a fresh flow, got %f/%f",
			info.AvgPktsPerPeriod, info.AvgBytesPerPeriod)
	}
	if info.FirstRx != initTimestamp {
		t.Errorf("Expected FirstRx %d, got %d", initTimestamp, info.FirstRx)
	}
	if info.LastRx != NoRx {
		t.Errorf("Expected LastRx to be NoRx, got %d", info.LastRx)
	}
	if info.PktsSeen != 0 || info.TotalIPLen != 0 {
		t.Errorf("Expected zero counters, got pkts=%d bytes=%d", info.PktsSeen, info.TotalIPLen)
	}
}

func TestAvgNoPkts(t *testing.T) {
	f := newTCPFlow()

	for i := 0; i < 100; i++ {
		f.UpdateAverages()
	}

	info := f.Info()
	if info.AvgPktsPerPeriod != 0 || info.AvgBytesPerPeriod != 0 {
		t.Errorf("Expected zero averages with no traffic, got %f/%f",
			info.AvgPktsPerPeriod, info.AvgBytesPerPeriod)
	}
}

func TestAvgFivePkts(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	for i := 0; i < 100; i++ {
		for j := 0; j < 5; j++ {
			ip := gen.ipHeader(model.ProtocolTCP)
			ip.Length = 500
			tcp := gen.tcpHeader()

			if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp); err != nil {
				t.Fatalf("ReceiveTCP failed: %v", err)
			}
		}
		f.UpdateAverages()
	}

	info := f.Info()
	if math.Abs(info.AvgPktsPerPeriod-5.0) > 0.01 {
		t.Errorf("Expected packet average near 5, got %f", info.AvgPktsPerPeriod)
	}
	if math.Abs(info.AvgBytesPerPeriod-2500.0) > 25 {
		t.Errorf("Expected byte average near 2500, got %f", info.AvgBytesPerPeriod)
	}
}

func TestAvgDecay(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	for j := 0; j < 5; j++ {
		ip := gen.ipHeader(model.ProtocolTCP)
		ip.Length = 500
		tcp := gen.tcpHeader()
		if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp); err != nil {
			t.Fatalf("ReceiveTCP failed: %v", err)
		}
	}

	for i := 0; i < 100; i++ {
		f.UpdateAverages()
	}

	info := f.Info()
	if math.Abs(info.AvgPktsPerPeriod) > 0.01 {
		t.Errorf("Expected packet average to decay to 0, got %f", info.AvgPktsPerPeriod)
	}
	if math.Abs(info.AvgBytesPerPeriod) > 25 {
		t.Errorf("Expected byte average to decay to 0, got %f", info.AvgBytesPerPeriod)
	}
}

func TestTotals(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	var sizeTotal uint64
	for i := 0; i < 100; i++ {
		ip := gen.ipHeader(model.ProtocolTCP)
		tcp := gen.tcpHeader()
		sizeTotal += uint64(ip.Length)

		if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp); err != nil {
			t.Fatalf("ReceiveTCP failed: %v", err)
		}
	}

	info := f.Info()
	if info.TotalIPLen != sizeTotal {
		t.Errorf("Expected total bytes %d, got %d", sizeTotal, info.TotalIPLen)
	}
	if info.PktsSeen != 100 {
		t.Errorf("Expected 100 packets, got %d", info.PktsSeen)
	}
}

func TestFirstLastRx(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	for i := 0; i < 100; i++ {
		ip := gen.ipHeader(model.ProtocolTCP)
		tcp := gen.tcpHeader()
		if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp+5*uint64(i)); err != nil {
			t.Fatalf("ReceiveTCP failed: %v", err)
		}
	}

	info := f.Info()
	if info.FirstRx != initTimestamp {
		t.Errorf("Expected FirstRx %d, got %d", initTimestamp, info.FirstRx)
	}
	if want := initTimestamp + 5*99; info.LastRx != want {
		t.Errorf("Expected LastRx %d, got %d", want, info.LastRx)
	}
}

// A flow that is only initialized, but has no packets, reports no budget.
func TestTimeLeftInit(t *testing.T) {
	f := newTCPFlow()

	if f.TimeLeft(initTimestamp) >= 0 {
		t.Errorf("Expected negative budget on a fresh flow, got %d", f.TimeLeft(initTimestamp))
	}
	if f.TimeLeft(initTimestamp+defaultTimeout) >= 0 {
		t.Errorf("Expected negative budget on a fresh flow, got %d",
			f.TimeLeft(initTimestamp+defaultTimeout))
	}
}

func TestTimeLeft(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	ip := gen.ipHeader(model.ProtocolTCP)
	tcp := gen.tcpHeader()
	if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp); err != nil {
		t.Fatalf("ReceiveTCP failed: %v", err)
	}

	if got := f.TimeLeft(initTimestamp); got != int64(defaultTimeout) {
		t.Errorf("Expected budget %d at receive time, got %d", defaultTimeout, got)
	}
	if got := f.TimeLeft(initTimestamp + defaultTimeout); got != 0 {
		t.Errorf("Expected budget 0 at timeout, got %d", got)
	}
	if got := f.TimeLeft(initTimestamp + defaultTimeout + 1); got >= 0 {
		t.Errorf("Expected negative budget past timeout, got %d", got)
	}
}

func TestHistoryIter(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	const n = 100000
	ipHeaders := make([]model.IPv4Header, 0, n)
	tcpHeaders := make([]model.TCPHeader, 0, n)

	for i := 0; i < n; i++ {
		ip := gen.ipHeader(model.ProtocolTCP)
		tcp := gen.tcpHeader()
		ipHeaders = append(ipHeaders, ip)
		tcpHeaders = append(tcpHeaders, tcp)

		if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp+uint64(i)); err != nil {
			t.Fatalf("ReceiveTCP failed: %v", err)
		}
	}

	it := f.History()
	i := 0
	for {
		tf, ok := it.Next()
		if !ok {
			break
		}

		ts, err := tf.Timestamp()
		if err != nil || ts != initTimestamp+uint64(i) {
			t.Fatalf("packet %d: bad timestamp %d (err %v)", i, ts, err)
		}
		ipLen, err := tf.IPLen()
		if err != nil || ipLen != ipHeaders[i].Length {
			t.Fatalf("packet %d: bad ip_len %d (err %v)", i, ipLen, err)
		}
		ipID, err := tf.IPID()
		if err != nil || ipID != ipHeaders[i].ID {
			t.Fatalf("packet %d: bad ip_id %d (err %v)", i, ipID, err)
		}
		ttl, err := tf.IPTTL()
		if err != nil || ttl != ipHeaders[i].TTL {
			t.Fatalf("packet %d: bad ip_ttl %d (err %v)", i, ttl, err)
		}
		seq, err := tf.TCPSeq()
		if err != nil || seq != tcpHeaders[i].Seq {
			t.Fatalf("packet %d: bad tcp_seq %d (err %v)", i, seq, err)
		}
		ack, err := tf.TCPAck()
		if err != nil || ack != tcpHeaders[i].Ack {
			t.Fatalf("packet %d: bad tcp_ack %d (err %v)", i, ack, err)
		}
		win, err := tf.TCPWin()
		if err != nil || win != tcpHeaders[i].Window {
			t.Fatalf("packet %d: bad tcp_win %d (err %v)", i, win, err)
		}
		flags, err := tf.TCPFlags()
		if err != nil || flags != tcpHeaders[i].Flags {
			t.Fatalf("packet %d: bad tcp_flags %d (err %v)", i, flags, err)
		}
		i++
	}

	if i != n {
		t.Errorf("Expected %d packets replayed, got %d", n, i)
	}
}

func TestPassiveIngestFails(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	ip := gen.ipHeader(model.ProtocolTCP)
	tcp := gen.tcpHeader()
	if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp); err != nil {
		t.Fatalf("ReceiveTCP failed: %v", err)
	}

	f.Finalize()
	if f.State() != StatePassive {
		t.Fatalf("Expected passive state after Finalize")
	}

	before := f.Info()
	_, err := f.ReceiveTCP(&ip, &tcp, initTimestamp+1)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState, got %v", err)
	}

	after := f.Info()
	if after.PktsSeen != before.PktsSeen || after.SizeBytes != before.SizeBytes {
		t.Errorf("History changed after rejected ingestion: %+v vs %+v", before, after)
	}
}

func TestProtocolMismatch(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	ip := gen.ipHeader(model.ProtocolUDP)
	tcp := gen.tcpHeader()

	_, err := f.ReceiveTCP(&ip, &tcp, initTimestamp)
	if !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("Expected ErrProtocolMismatch, got %v", err)
	}
	if f.Info().PktsSeen != 0 {
		t.Errorf("Flow mutated by mismatched packet")
	}
}

func TestFieldNotTracked(t *testing.T) {
	cfg := &Config{Fields: FieldIPLen, Alpha: 0.3}
	f := New(model.ProtocolTCP, initTimestamp, defaultTimeout, cfg)
	gen := newPktGen(1)

	ip := gen.ipHeader(model.ProtocolTCP)
	tcp := gen.tcpHeader()
	if _, err := f.ReceiveTCP(&ip, &tcp, initTimestamp); err != nil {
		t.Fatalf("ReceiveTCP failed: %v", err)
	}

	tf, ok := f.History().Next()
	if !ok {
		t.Fatalf("Expected one history entry")
	}

	if _, err := tf.IPLen(); err != nil {
		t.Errorf("Expected ip_len to be tracked, got %v", err)
	}
	if _, err := tf.Timestamp(); err != nil {
		t.Errorf("Expected timestamp to always be tracked, got %v", err)
	}
	if _, err := tf.TCPSeq(); !errors.Is(err, ErrFieldNotTracked) {
		t.Errorf("Expected ErrFieldNotTracked for tcp_seq, got %v", err)
	}
	if _, err := tf.IPTTL(); !errors.Is(err, ErrFieldNotTracked) {
		t.Errorf("Expected ErrFieldNotTracked for ip_ttl, got %v", err)
	}
}

func TestICMPIngest(t *testing.T) {
	f := New(model.ProtocolICMP, initTimestamp, defaultTimeout, DefaultConfig())
	gen := newPktGen(1)

	ip := gen.ipHeader(model.ProtocolICMP)
	icmp := gen.icmpHeader()
	if _, err := f.ReceiveICMP(&ip, &icmp, initTimestamp); err != nil {
		t.Fatalf("ReceiveICMP failed: %v", err)
	}

	tf, ok := f.History().Next()
	if !ok {
		t.Fatalf("Expected one history entry")
	}
	typ, err := tf.ICMPType()
	if err != nil || typ != icmp.Type {
		t.Errorf("Bad icmp_type %d (err %v), want %d", typ, err, icmp.Type)
	}
	code, err := tf.ICMPCode()
	if err != nil || code != icmp.Code {
		t.Errorf("Bad icmp_code %d (err %v), want %d", code, err, icmp.Code)
	}
	// TCP fields are never present on an ICMP flow even when configured.
	if _, err := tf.TCPSeq(); !errors.Is(err, ErrFieldNotTracked) {
		t.Errorf("Expected ErrFieldNotTracked for tcp_seq on ICMP flow, got %v", err)
	}
}

func TestUDPPayloadSize(t *testing.T) {
	f := New(model.ProtocolUDP, initTimestamp, defaultTimeout, DefaultConfig())
	gen := newPktGen(1)

	ip := gen.ipHeader(model.ProtocolUDP)
	ip.Length = 120
	udp := &model.UDPHeader{SrcPort: 1000, DstPort: 2000, Length: 100}
	if _, err := f.ReceiveUDP(&ip, udp, initTimestamp); err != nil {
		t.Fatalf("ReceiveUDP failed: %v", err)
	}

	tf, _ := f.History().Next()
	payload, err := tf.PayloadSize()
	if err != nil {
		t.Fatalf("PayloadSize failed: %v", err)
	}
	// IP length minus (IP header length minus the fixed UDP header size).
	if payload != 120-(20-8) {
		t.Errorf("Expected payload %d, got %d", 120-(20-8), payload)
	}
}

func TestStorageAccounting(t *testing.T) {
	f := newTCPFlow()
	gen := newPktGen(1)

	total := 0
	for i := 0; i < 50; i++ {
		ip := gen.ipHeader(model.ProtocolTCP)
		tcp := gen.tcpHeader()
		grown, err := f.ReceiveTCP(&ip, &tcp, initTimestamp+uint64(i))
		if err != nil {
			t.Fatalf("ReceiveTCP failed: %v", err)
		}
		if grown <= 0 {
			t.Fatalf("Expected positive storage growth, got %d", grown)
		}
		total += grown
	}

	if f.SizeBytes() != total {
		t.Errorf("Expected size %d, got %d", total, f.SizeBytes())
	}
}

func TestUnknownPayloadSize(t *testing.T) {
	f := New(250, initTimestamp, defaultTimeout, DefaultConfig())
	gen := newPktGen(1)

	ip := gen.ipHeader(250)
	ip.Length = 120
	if _, err := f.ReceiveUnknown(&ip, initTimestamp); err != nil {
		t.Fatalf("ReceiveUnknown failed: %v", err)
	}

	tf, _ := f.History().Next()
	payload, err := tf.PayloadSize()
	if err != nil {
		t.Fatalf("PayloadSize failed: %v", err)
	}
	// IP header length only: 120 - 20.
	if payload != 100 {
		t.Errorf("Expected payload 100, got %d", payload)
	}
}
