package flow

import "math"

// microsPerSecond is the width of one estimator window in capture time.
const microsPerSecond = 1_000_000

// noSeq marks an estimator that has not absorbed its first segment yet.
const noSeq = math.MaxUint32

// TCPRateEstimator maintains an online bytes-per-second estimate for one TCP
// flow using 1-second capture-time windows and exponential decay. It stores
// O(1) state: no per-packet data is retained. Out-of-order segments are
// flagged and excluded from the byte accounting entirely.
//
// The estimator is owned by its flow and is never shared.
type TCPRateEstimator struct {
	alpha float64

	// Capture time of the flow's creation and of the last update.
	firstRx uint64
	lastRx  uint64

	// One past the highest contiguous sequence number seen so far.
	lastSeenSeq uint32

	bytesThisSecond float64
	currBps         float64
	currSecondStart uint64
	outOfOrder      bool
}

// NewTCPRateEstimator creates an estimator for a flow created at firstRx.
func NewTCPRateEstimator(firstRx uint64, alpha float64) *TCPRateEstimator {
	return &TCPRateEstimator{
		alpha:           alpha,
		firstRx:         firstRx,
		lastRx:          noRx,
		lastSeenSeq:     noSeq,
		currSecondStart: firstRx,
	}
}

// Update folds one observed TCP segment into the estimate. Timestamp is in
// capture-time microseconds.
func (e *TCPRateEstimator) Update(seq, payloadSize uint32, timestamp uint64) {
	if e.lastSeenSeq == noSeq {
		e.bytesThisSecond += float64(payloadSize)
		e.lastSeenSeq = seq + payloadSize
		e.lastRx = timestamp
		return
	}

	if seq < e.lastSeenSeq {
		// Segment is out of order. We ignore it.
		e.outOfOrder = true
		e.lastRx = timestamp
		return
	}

	bytesDelta := uint64(seq-e.lastSeenSeq) + uint64(payloadSize)
	timeDelta := timestamp - e.lastRx
	currSecondEnd := e.currSecondStart + microsPerSecond

	if timestamp <= currSecondEnd {
		e.bytesThisSecond += float64(bytesDelta)
	} else {
		rate := float64(bytesDelta) / float64(timeDelta)

		secondsSkipped := (timestamp - currSecondEnd) / microsPerSecond
		timeRemaining := currSecondEnd - e.lastRx

		// bytesDelta was transmitted over a period starting in the current
		// second and ending in one of the following seconds. Attribute the
		// share owed to the remainder of the current second before closing it.
		e.bytesThisSecond += rate * float64(timeRemaining)

		// The very first second seeds the estimate without smoothing.
		if e.currSecondStart == e.firstRx {
			e.currBps = e.bytesThisSecond
		} else {
			e.currBps = (1-e.alpha)*e.currBps + e.alpha*e.bytesThisSecond
		}

		// Each fully skipped second decays the estimate once, using the
		// instantaneous rate as that second's byte count.
		for i := uint64(0); i < secondsSkipped; i++ {
			e.currBps = (1-e.alpha)*e.currBps + e.alpha*rate*microsPerSecond
		}

		timeIntoNewSecond := timeDelta - secondsSkipped*microsPerSecond + timeRemaining

		e.bytesThisSecond = rate * float64(timeIntoNewSecond)
		e.currSecondStart = currSecondEnd + secondsSkipped*microsPerSecond
	}

	e.lastSeenSeq = seq + payloadSize
	e.lastRx = timestamp
}

// Estimate returns the bytes-per-second figure projected to the given capture
// time. The query time must not precede the flow's last receive time.
func (e *TCPRateEstimator) Estimate(timestamp uint64) (float64, error) {
	if timestamp < e.lastRx {
		return 0, ErrInvalidQuery
	}

	currSecondEnd := e.currSecondStart + microsPerSecond

	// Until the first window closes the live window's byte count is the best
	// figure available.
	bps := e.currBps
	if e.currSecondStart == e.firstRx {
		bps = e.bytesThisSecond
	}

	if timestamp <= currSecondEnd {
		return bps, nil
	}

	// Idle decay: one smoothing step per whole second past the window end.
	// The window itself is not mutated.
	secondsSkipped := (timestamp - currSecondEnd) / microsPerSecond
	for i := uint64(0); i < secondsSkipped; i++ {
		bps *= 1 - e.alpha
	}

	return bps, nil
}

// OutOfOrder reports whether any segment arrived below the last contiguous
// sequence boundary.
func (e *TCPRateEstimator) OutOfOrder() bool {
	return e.outOfOrder
}
