package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sangyf/flowparser/internal/api"
	"github.com/sangyf/flowparser/internal/config"
	"github.com/sangyf/flowparser/internal/engine"
	"github.com/sangyf/flowparser/internal/export"
	"github.com/sangyf/flowparser/internal/model"
	"github.com/sangyf/flowparser/pkg/pcap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	mode := flag.String("mode", "run", "Operating mode: 'run' to capture and parse, 'sink' to subscribe to exported records and print them.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *mode {
	case "run":
		runEngine(cfg)
	case "sink":
		runSink(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runEngine captures from the configured interface and runs the full pipeline.
func runEngine(cfg *config.Config) {
	if cfg.Capture.Interface == "" {
		log.Fatalf("capture.interface must be set for run mode")
	}

	writers, err := export.BuildWriters(cfg.Export)
	if err != nil {
		log.Fatalf("Failed to create writers: %v", err)
	}

	eng, err := engine.New(cfg, writers)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	reader, err := pcap.NewLiveReader(cfg.Capture.Interface, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", cfg.Capture.Interface, err)
	}
	log.Printf("Capture started on interface %s.", cfg.Capture.Interface)

	eng.Start()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.ListenAddr, eng.Parser())
		apiServer.Start()
	}

	readerDone := make(chan struct{})
	go func() {
		reader.ReadPackets(eng.Input)
		close(readerDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
	}

	// The reader must drain before the engine closes its input channel.
	reader.Close()
	<-readerDone
	eng.Stop()
	log.Println("Shutdown complete.")
}

// runSink subscribes to the NATS export subject and prints received records.
func runSink(cfg *config.Config) {
	sub, err := export.NewSubscriber(cfg.Export.NATS)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(rec *model.Record) {
		log.Printf("Flow %s:%d->%s:%d proto=%d pkts=%d bytes=%d Bps=%.1f",
			rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort,
			rec.Protocol, rec.Packets, rec.IPBytes, rec.BytesPerSec)
	}

	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}
