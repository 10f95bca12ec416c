// Package api exposes the live parser state over HTTP for operators.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sangyf/flowparser/internal/parser"
)

// Server serves read-only stats endpoints backed by a live FlowParser.
type Server struct {
	parser *parser.FlowParser
	server *http.Server
}

// NewServer builds the HTTP server on the given listen address.
func NewServer(listenAddr string, p *parser.FlowParser) *Server {
	s := &Server{parser: p}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/stats", s.statsHandler).Methods("GET")
	r.HandleFunc("/api/v1/flows", s.flowsHandler).Methods("GET")

	s.server = &http.Server{
		Addr:         listenAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("API server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.parser.Stats())
}

// flowSummaryJSON flattens a parser.FlowSummary for the wire.
type flowSummaryJSON struct {
	Src               string  `json:"src"`
	Dst               string  `json:"dst"`
	SrcPort           uint16  `json:"src_port"`
	DstPort           uint16  `json:"dst_port"`
	Protocol          uint8   `json:"protocol"`
	FirstRx           uint64  `json:"first_rx"`
	LastRx            uint64  `json:"last_rx"`
	Packets           uint64  `json:"packets"`
	IPBytes           uint64  `json:"ip_bytes"`
	PayloadBytes      uint64  `json:"payload_bytes"`
	AvgPktsPerPeriod  float64 `json:"avg_pkts_per_period"`
	AvgBytesPerPeriod float64 `json:"avg_bytes_per_period"`
}

func (s *Server) flowsHandler(w http.ResponseWriter, _ *http.Request) {
	live := s.parser.LiveFlows()
	out := make([]flowSummaryJSON, 0, len(live))
	for _, f := range live {
		out = append(out, flowSummaryJSON{
			Src:               f.Key.SrcIP(),
			Dst:               f.Key.DstIP(),
			SrcPort:           f.Key.SrcPort,
			DstPort:           f.Key.DstPort,
			Protocol:          f.Protocol,
			FirstRx:           f.Info.FirstRx,
			LastRx:            f.Info.LastRx,
			Packets:           f.Info.PktsSeen,
			IPBytes:           f.Info.TotalIPLen,
			PayloadBytes:      f.Info.TotalPayload,
			AvgPktsPerPeriod:  f.Info.AvgPktsPerPeriod,
			AvgBytesPerPeriod: f.Info.AvgBytesPerPeriod,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
