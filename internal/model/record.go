package model

// Record is the final state of a flow after the parser has expired it.
// One Record is produced per finalized flow and handed to the export writers.
type Record struct {
	SrcIP    string
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8

	// Capture-time microseconds.
	FirstRx uint64
	LastRx  uint64

	Packets      uint64
	IPBytes      uint64
	PayloadBytes uint64

	AvgPktsPerPeriod  float64
	AvgBytesPerPeriod float64

	// BytesPerSec is the final throughput estimate. Only meaningful for TCP
	// flows; zero otherwise.
	BytesPerSec float64
	OutOfOrder  bool
}
