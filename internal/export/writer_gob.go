package export

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sangyf/flowparser/internal/model"
)

// summaryData holds the metadata written next to a run's record file.
type summaryData struct {
	TotalFlows   int    `json:"total_flows"`
	TotalPackets uint64 `json:"total_packets"`
	TotalBytes   uint64 `json:"total_bytes"`
	Timestamp    string `json:"timestamp"`
}

// GobWriter appends finalized flow records to a gob stream on disk, one file
// per run, and writes a summary.json when closed. It implements model.Writer.
type GobWriter struct {
	mu      sync.Mutex
	file    *os.File
	enc     *gob.Encoder
	dir     string
	summary summaryData
}

// NewGobWriter creates the run directory under rootPath and opens the record
// file.
func NewGobWriter(rootPath string) (*GobWriter, error) {
	dir := filepath.Join(rootPath, time.Now().UTC().Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, "records.gob"))
	if err != nil {
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}

	return &GobWriter{file: file, enc: gob.NewEncoder(file), dir: dir}, nil
}

// Write appends one record to the gob stream.
func (w *GobWriter) Write(rec *model.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record to gob: %w", err)
	}
	w.summary.TotalFlows++
	w.summary.TotalPackets += rec.Packets
	w.summary.TotalBytes += rec.IPBytes
	return nil
}

// Close closes the record file and writes the run summary.
func (w *GobWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return err
	}

	w.summary.Timestamp = time.Now().UTC().Format(time.RFC3339)
	summaryFile, err := os.Create(filepath.Join(w.dir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	enc := json.NewEncoder(summaryFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}

// ReadRecords decodes every record from a gob file written by a GobWriter.
// Intended for consumers and tests.
func ReadRecords(path string) ([]*model.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var records []*model.Record
	for {
		var rec model.Record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		records = append(records, &rec)
	}
	return records, nil
}
