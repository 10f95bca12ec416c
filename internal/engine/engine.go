// Package engine wires the flow parser to its packet source and its writers:
// a worker pool ingests packets, tickers drive expiry collection and average
// updates, and finalized records fan out to every configured writer.
package engine

import (
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/sangyf/flowparser/internal/config"
	"github.com/sangyf/flowparser/internal/export"
	"github.com/sangyf/flowparser/internal/flow"
	"github.com/sangyf/flowparser/internal/model"
	"github.com/sangyf/flowparser/internal/parser"
)

// Engine runs the full pipeline around one FlowParser.
type Engine struct {
	parser  *parser.FlowParser
	writers []model.Writer

	// Input receives parsed packets. Close it via Stop only.
	Input   chan *model.Packet
	records chan *model.Record

	numWorkers      int
	collectInterval time.Duration
	averageInterval time.Duration

	workerWg sync.WaitGroup
	tickerWg sync.WaitGroup
	writerWg sync.WaitGroup
	done     chan struct{}
}

// New builds an engine from the configuration. The writers receive ownership
// of finalized flow records; they are closed by Stop.
func New(cfg *config.Config, writers []model.Writer) (*Engine, error) {
	flowTimeout, collect, average, err := cfg.Parser.Timeouts()
	if err != nil {
		return nil, err
	}

	fields, err := flow.ParseFields(cfg.Parser.TrackedFields)
	if err != nil {
		return nil, err
	}
	flowCfg := &flow.Config{Fields: fields, Alpha: cfg.Parser.EWMAAlpha}
	if flowCfg.Alpha <= 0 || flowCfg.Alpha > 1 {
		flowCfg.Alpha = DefaultAlpha
	}

	numWorkers := cfg.Parser.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	chanSize := cfg.Parser.SizeOfPacketChannel
	if chanSize <= 0 {
		chanSize = 1000
	}

	e := &Engine{
		writers:         writers,
		Input:           make(chan *model.Packet, chanSize),
		records:         make(chan *model.Record, 100),
		numWorkers:      numWorkers,
		collectInterval: collect,
		averageInterval: average,
		done:            make(chan struct{}),
	}
	e.parser = parser.New(uint64(flowTimeout.Microseconds()), flowCfg, e.deliver)
	return e, nil
}

// DefaultAlpha is used when the configured smoothing factor is out of range.
const DefaultAlpha = 0.3

// Parser exposes the live parser for the stats API.
func (e *Engine) Parser() *parser.FlowParser {
	return e.parser
}

// deliver is the parser's completion callback. It runs on whichever goroutine
// triggered the collection pass.
func (e *Engine) deliver(key parser.FlowKey, fl *flow.Flow) {
	e.records <- export.NewRecord(key, fl)
}

// Start launches the ingest workers, the tickers and the record fan-out.
func (e *Engine) Start() {
	e.workerWg.Add(e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker()
	}

	e.tickerWg.Add(2)
	go e.collector()
	go e.averager()

	e.writerWg.Add(1)
	go e.fanOut()

	log.Printf("Engine started with %d workers, collect every %s, averages every %s.",
		e.numWorkers, e.collectInterval, e.averageInterval)
}

// Stop drains the pipeline: no more input, one final flush of every live
// flow, then the writers are closed.
func (e *Engine) Stop() {
	close(e.Input)
	e.workerWg.Wait()

	close(e.done)
	e.tickerWg.Wait()

	flushed := e.parser.Flush()
	if flushed > 0 {
		log.Printf("Flushed %d remaining flows on shutdown.", flushed)
	}

	close(e.records)
	e.writerWg.Wait()

	for _, w := range e.writers {
		if err := w.Close(); err != nil {
			log.Printf("Error closing writer: %v", err)
		}
	}
}

func (e *Engine) worker() {
	defer e.workerWg.Done()
	for pkt := range e.Input {
		if err := e.parser.HandlePacket(pkt); err != nil {
			log.Printf("Error handling packet: %v", err)
		}
	}
}

func (e *Engine) collector() {
	defer e.tickerWg.Done()
	ticker := time.NewTicker(e.collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := e.parser.CollectExpired(); n > 0 {
				log.Printf("Collected %d expired flows.", n)
			}
		case <-e.done:
			return
		}
	}
}

func (e *Engine) averager() {
	defer e.tickerWg.Done()
	ticker := time.NewTicker(e.averageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.parser.UpdateAverages()
		case <-e.done:
			return
		}
	}
}

func (e *Engine) fanOut() {
	defer e.writerWg.Done()
	for rec := range e.records {
		for _, w := range e.writers {
			if err := w.Write(rec); err != nil {
				log.Printf("Error writing record: %v", err)
			}
		}
	}
}
