package export

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/sangyf/flowparser/internal/config"
	"github.com/sangyf/flowparser/internal/model"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS flow_records (
    SrcIP             String,
    DstIP             String,
    SrcPort           UInt16,
    DstPort           UInt16,
    Protocol          UInt8,
    FirstRx           UInt64,
    LastRx            UInt64,
    Packets           UInt64,
    IPBytes           UInt64,
    PayloadBytes      UInt64,
    AvgPktsPerPeriod  Float64,
    AvgBytesPerPeriod Float64,
    BytesPerSec       Float64,
    OutOfOrder        UInt8,
    InsertedAt        DateTime
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(InsertedAt)
ORDER BY (Protocol, FirstRx);
`

// ClickHouseWriter inserts finalized flow records into ClickHouse. It
// implements model.Writer.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter connects to ClickHouse and ensures the records table
// exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

// Write inserts one record into the flow_records table.
func (w *ClickHouseWriter) Write(rec *model.Record) error {
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO flow_records")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	outOfOrder := uint8(0)
	if rec.OutOfOrder {
		outOfOrder = 1
	}

	err = batch.Append(
		rec.SrcIP,
		rec.DstIP,
		rec.SrcPort,
		rec.DstPort,
		rec.Protocol,
		rec.FirstRx,
		rec.LastRx,
		rec.Packets,
		rec.IPBytes,
		rec.PayloadBytes,
		rec.AvgPktsPerPeriod,
		rec.AvgBytesPerPeriod,
		rec.BytesPerSec,
		outOfOrder,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append record to batch: %w", err)
	}

	return batch.Send()
}

// Close closes the ClickHouse connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
