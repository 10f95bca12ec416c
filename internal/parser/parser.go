// Package parser owns the flow tables. It finds or creates the flow matching
// each packet, dispatches the packet to it, and periodically expires flows
// that have been silent for longer than the configured timeout.
package parser

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sangyf/flowparser/internal/flow"
	"github.com/sangyf/flowparser/internal/model"
)

// FlowCallback receives exclusive ownership of each finalized flow together
// with its table key. The parser holds no reference to the flow afterwards.
type FlowCallback func(key FlowKey, fl *flow.Flow)

// entry pairs a flow with its own lock. The structural lock protects the
// table maps only; a flow's contents are protected by its entry lock. Lock
// order is always structural first, entry second, never the reverse.
type entry struct {
	mu sync.Mutex
	fl *flow.Flow
}

// FlowParser maintains one table per protocol so that a 4-tuple shared across
// protocols can never produce a protocol mismatch. Time is capture time: the
// most recent packet timestamp seen is "now" for expiry purposes.
type FlowParser struct {
	mu     sync.Mutex
	tcp    map[FlowKey]*entry
	udp    map[FlowKey]*entry
	icmp   map[FlowKey]*entry
	other  map[FlowKey]*entry
	lastRx uint64

	timeout  uint64
	flowCfg  *flow.Config
	callback FlowCallback

	memBytes atomic.Int64
}

// New creates a parser. Timeout is the inactivity budget in capture-time
// microseconds; cfg is attached to every flow the parser creates; callback
// receives finalized flows and may be nil.
func New(timeout uint64, cfg *flow.Config, callback FlowCallback) *FlowParser {
	return &FlowParser{
		tcp:      make(map[FlowKey]*entry),
		udp:      make(map[FlowKey]*entry),
		icmp:     make(map[FlowKey]*entry),
		other:    make(map[FlowKey]*entry),
		lastRx:   math.MaxUint64,
		timeout:  timeout,
		flowCfg:  cfg,
		callback: callback,
	}
}

// HandlePacket routes one packet to its flow, creating the flow if the key is
// new. Safe for concurrent use; packets for distinct flows are ingested in
// parallel.
func (p *FlowParser) HandlePacket(pkt *model.Packet) error {
	ip := &pkt.IP
	ts := pkt.Timestamp

	switch {
	case pkt.TCP != nil:
		if ip.Protocol != model.ProtocolTCP {
			return fmt.Errorf("TCP header with IP protocol %d: %w", ip.Protocol, flow.ErrProtocolMismatch)
		}
		return p.handle(p.tcp, ip.Protocol, KeyFromTCP(ip, pkt.TCP), ts, func(fl *flow.Flow) (int, error) {
			return fl.ReceiveTCP(ip, pkt.TCP, ts)
		})
	case pkt.UDP != nil:
		if ip.Protocol != model.ProtocolUDP {
			return fmt.Errorf("UDP header with IP protocol %d: %w", ip.Protocol, flow.ErrProtocolMismatch)
		}
		return p.handle(p.udp, ip.Protocol, KeyFromUDP(ip, pkt.UDP), ts, func(fl *flow.Flow) (int, error) {
			return fl.ReceiveUDP(ip, pkt.UDP, ts)
		})
	case pkt.ICMP != nil:
		if ip.Protocol != model.ProtocolICMP {
			return fmt.Errorf("ICMP header with IP protocol %d: %w", ip.Protocol, flow.ErrProtocolMismatch)
		}
		return p.handle(p.icmp, ip.Protocol, KeyFromIP(ip), ts, func(fl *flow.Flow) (int, error) {
			return fl.ReceiveICMP(ip, pkt.ICMP, ts)
		})
	default:
		return p.handle(p.other, ip.Protocol, KeyFromIP(ip), ts, func(fl *flow.Flow) (int, error) {
			return fl.ReceiveUnknown(ip, ts)
		})
	}
}

// handle performs the find-or-create under the structural lock, then ingests
// under the flow's own lock. The structural lock is never held during
// ingestion, so unrelated flows do not contend.
func (p *FlowParser) handle(table map[FlowKey]*entry, proto uint8, key FlowKey, ts uint64, ingest func(fl *flow.Flow) (int, error)) error {
	p.mu.Lock()
	e, ok := table[key]
	if !ok {
		e = &entry{fl: flow.New(proto, ts, p.timeout, p.flowCfg)}
		table[key] = e
	}
	p.mu.Unlock()

	e.mu.Lock()
	grown, err := ingest(e.fl)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("flow %s: %w", key, err)
	}
	p.memBytes.Add(int64(grown))

	p.mu.Lock()
	p.lastRx = ts
	p.mu.Unlock()
	return nil
}

// CollectExpired removes every flow whose inactivity budget is exhausted at
// the current capture time, finalizes it and hands it to the callback. The
// callback runs after the structural lock has been released. Returns the
// number of flows collected.
func (p *FlowParser) CollectExpired() int {
	return p.collect(false)
}

// Flush expires every remaining flow regardless of its budget. Used at
// shutdown so no flow is lost.
func (p *FlowParser) Flush() int {
	return p.collect(true)
}

func (p *FlowParser) collect(all bool) int {
	type victim struct {
		key FlowKey
		e   *entry
	}
	var victims []victim

	// Mark-and-collect under the structural lock. Each entry lock is taken
	// briefly to read the flow's budget; this respects the structural->flow
	// lock order.
	p.mu.Lock()
	now := p.lastRx
	for _, table := range []map[FlowKey]*entry{p.tcp, p.udp, p.icmp, p.other} {
		for key, e := range table {
			// A flow that has not received its first packet yet is mid-creation
			// in handle; it is never expired, only flushed.
			e.mu.Lock()
			received := e.fl.Info().LastRx != flow.NoRx
			expired := all || (received && e.fl.TimeLeft(now) <= 0)
			e.mu.Unlock()
			if expired {
				victims = append(victims, victim{key, e})
				delete(table, key)
			}
		}
	}
	p.mu.Unlock()

	// Deliver outside the structural lock. After the delete above no other
	// goroutine can reach these entries, so finalizing under the entry lock
	// only waits out an ingestion already in flight.
	for _, v := range victims {
		v.e.mu.Lock()
		v.e.fl.Finalize()
		v.e.mu.Unlock()

		p.memBytes.Add(-int64(v.e.fl.SizeBytes()))
		if p.callback != nil {
			p.callback(v.key, v.e.fl)
		}
	}
	return len(victims)
}

// UpdateAverages applies one averaging period to every live flow.
func (p *FlowParser) UpdateAverages() {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.tcp)+len(p.udp)+len(p.icmp)+len(p.other))
	for _, table := range []map[FlowKey]*entry{p.tcp, p.udp, p.icmp, p.other} {
		for _, e := range table {
			entries = append(entries, e)
		}
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.fl.UpdateAverages()
		e.mu.Unlock()
	}
}

// Stats is a snapshot of the parser's table sizes and memory usage.
type Stats struct {
	TCPFlows     int    `json:"tcp_flows"`
	UDPFlows     int    `json:"udp_flows"`
	ICMPFlows    int    `json:"icmp_flows"`
	UnknownFlows int    `json:"unknown_flows"`
	MemBytes     int64  `json:"mem_bytes"`
	LastRx       uint64 `json:"last_rx"`
}

// Stats returns a consistent snapshot of table sizes, history memory and the
// last capture timestamp seen.
func (p *FlowParser) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		TCPFlows:     len(p.tcp),
		UDPFlows:     len(p.udp),
		ICMPFlows:    len(p.icmp),
		UnknownFlows: len(p.other),
		LastRx:       p.lastRx,
	}
	p.mu.Unlock()
	s.MemBytes = p.memBytes.Load()
	return s
}

// FlowSummary describes one live flow for reporting.
type FlowSummary struct {
	Key      FlowKey
	Protocol uint8
	Info     flow.Info
}

// LiveFlows returns a summary of every flow currently in the tables.
func (p *FlowParser) LiveFlows() []FlowSummary {
	type live struct {
		key   FlowKey
		proto uint8
		e     *entry
	}

	p.mu.Lock()
	entries := make([]live, 0, len(p.tcp)+len(p.udp)+len(p.icmp)+len(p.other))
	for _, table := range []map[FlowKey]*entry{p.tcp, p.udp, p.icmp, p.other} {
		for key, e := range table {
			entries = append(entries, live{key, e.fl.Protocol(), e})
		}
	}
	p.mu.Unlock()

	summaries := make([]FlowSummary, 0, len(entries))
	for _, l := range entries {
		l.e.mu.Lock()
		info := l.e.fl.Info()
		l.e.mu.Unlock()
		summaries = append(summaries, FlowSummary{Key: l.key, Protocol: l.proto, Info: info})
	}
	return summaries
}
