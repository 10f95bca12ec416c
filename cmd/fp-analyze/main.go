package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sangyf/flowparser/internal/config"
	"github.com/sangyf/flowparser/internal/engine"
	"github.com/sangyf/flowparser/internal/export"
	"github.com/sangyf/flowparser/pkg/pcap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: fp-analyze [-config path] <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	writers, err := export.BuildWriters(cfg.Export)
	if err != nil {
		log.Fatalf("Failed to create writers: %v", err)
	}

	eng, err := engine.New(cfg, writers)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	reader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer reader.Close()
	log.Printf("Reading packets from '%s'...", pcapFilePath)

	eng.Start()
	reader.ReadPackets(eng.Input)
	log.Println("Finished reading all packets from pcap file.")

	eng.Stop()

	stats := eng.Parser().Stats()
	log.Printf("Done. Remaining flows: tcp=%d udp=%d icmp=%d unknown=%d",
		stats.TCPFlows, stats.UDPFlows, stats.ICMPFlows, stats.UnknownFlows)
}
