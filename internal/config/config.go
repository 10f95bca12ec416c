package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ParserConfig configures the flow parser and its flows.
type ParserConfig struct {
	// Inactivity timeout in capture time, e.g. "60s".
	FlowTimeout string `yaml:"flow_timeout"`
	// Real-time cadence of expiry collection passes.
	CollectInterval string `yaml:"collect_interval"`
	// Real-time cadence of per-flow average updates.
	AverageInterval string `yaml:"average_interval"`
	// Optional header fields to record per packet.
	TrackedFields []string `yaml:"tracked_fields"`
	// Smoothing factor shared by the rate estimator and the averages.
	EWMAAlpha           float64 `yaml:"ewma_alpha"`
	NumWorkers          int     `yaml:"num_workers"`
	SizeOfPacketChannel int     `yaml:"size_of_packet_channel"`
}

// CaptureConfig configures live capture.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
}

// GobConfig configures the gob file writer.
type GobConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RootPath string `yaml:"root_path"`
}

// ClickHouseConfig configures the ClickHouse writer.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NATSConfig configures the NATS record publisher.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ExportConfig groups the writers finalized flows are delivered to.
type ExportConfig struct {
	Gob        GobConfig        `yaml:"gob"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// APIConfig configures the HTTP stats API.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Parser  ParserConfig  `yaml:"parser"`
	Capture CaptureConfig `yaml:"capture"`
	Export  ExportConfig  `yaml:"export"`
	API     APIConfig     `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return &cfg, nil
}

// Timeouts parses and validates the three configured durations.
func (c *ParserConfig) Timeouts() (flowTimeout, collect, average time.Duration, err error) {
	flowTimeout, err = parseDuration("flow_timeout", c.FlowTimeout)
	if err != nil {
		return
	}
	collect, err = parseDuration("collect_interval", c.CollectInterval)
	if err != nil {
		return
	}
	average, err = parseDuration("average_interval", c.AverageInterval)
	return
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", name)
	}
	return d, nil
}
