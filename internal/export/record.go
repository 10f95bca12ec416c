package export

import (
	"github.com/sangyf/flowparser/internal/flow"
	"github.com/sangyf/flowparser/internal/model"
	"github.com/sangyf/flowparser/internal/parser"
)

// NewRecord builds the export record for a finalized flow. The final rate
// estimate is projected to the flow's own last receive time, so it depends
// only on capture time.
func NewRecord(key parser.FlowKey, fl *flow.Flow) *model.Record {
	info := fl.Info()
	rec := &model.Record{
		SrcIP:             key.SrcIP(),
		DstIP:             key.DstIP(),
		SrcPort:           key.SrcPort,
		DstPort:           key.DstPort,
		Protocol:          fl.Protocol(),
		FirstRx:           info.FirstRx,
		LastRx:            info.LastRx,
		Packets:           info.PktsSeen,
		IPBytes:           info.TotalIPLen,
		PayloadBytes:      info.TotalPayload,
		AvgPktsPerPeriod:  info.AvgPktsPerPeriod,
		AvgBytesPerPeriod: info.AvgBytesPerPeriod,
	}

	if est := fl.RateEstimator(); est != nil && info.LastRx != flow.NoRx {
		if bps, err := est.Estimate(info.LastRx); err == nil {
			rec.BytesPerSec = bps
		}
		rec.OutOfOrder = est.OutOfOrder()
	}
	return rec
}
