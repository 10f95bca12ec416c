package flow

import (
	"fmt"

	"github.com/sangyf/flowparser/internal/model"
)

// FieldSet is a bitmask selecting which optional header fields a flow records
// for every packet. The timestamp is always recorded.
type FieldSet uint16

const (
	FieldTimestamp FieldSet = 1 << iota
	FieldIPLen
	FieldIPID
	FieldIPTTL
	FieldPayloadSize
	FieldTCPFlags
	FieldTCPSeq
	FieldTCPAck
	FieldTCPWin
	FieldICMPType
	FieldICMPCode
)

// AllFields enables every optional field.
const AllFields = FieldIPLen | FieldIPID | FieldIPTTL | FieldPayloadSize |
	FieldTCPFlags | FieldTCPSeq | FieldTCPAck | FieldTCPWin |
	FieldICMPType | FieldICMPCode

// fieldNames maps config file field names to their bits.
var fieldNames = map[string]FieldSet{
	"ip_len":       FieldIPLen,
	"ip_id":        FieldIPID,
	"ip_ttl":       FieldIPTTL,
	"payload_size": FieldPayloadSize,
	"tcp_flags":    FieldTCPFlags,
	"tcp_seq":      FieldTCPSeq,
	"tcp_ack":      FieldTCPAck,
	"tcp_win":      FieldTCPWin,
	"icmp_type":    FieldICMPType,
	"icmp_code":    FieldICMPCode,
}

// ParseFields converts a list of field names from the config file into a
// FieldSet.
func ParseFields(names []string) (FieldSet, error) {
	var fields FieldSet
	for _, name := range names {
		bit, ok := fieldNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown tracked field: %q", name)
		}
		fields |= bit
	}
	return fields, nil
}

// relevantFields returns the subset of fields that can ever be populated for
// a flow of the given protocol.
func relevantFields(proto uint8) FieldSet {
	common := FieldTimestamp | FieldIPLen | FieldIPID | FieldIPTTL | FieldPayloadSize
	switch proto {
	case model.ProtocolTCP:
		return common | FieldTCPFlags | FieldTCPSeq | FieldTCPAck | FieldTCPWin
	case model.ProtocolICMP:
		return common | FieldICMPType | FieldICMPCode
	default:
		return common
	}
}

// Config is shared by reference across all flows created by one parser and is
// never mutated after flow creation. Alpha is the exponential smoothing
// factor (0 < alpha <= 1) used by both the TCP rate estimator and the
// per-period average decay.
type Config struct {
	Fields FieldSet
	Alpha  float64
}

// DefaultConfig tracks every field with a smoothing factor of 0.3.
func DefaultConfig() *Config {
	return &Config{Fields: AllFields, Alpha: 0.3}
}
