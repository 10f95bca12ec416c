package model

// Writer defines a generic interface for persisting finalized flow records.
type Writer interface {
	// Write persists a single finalized flow record.
	Write(rec *Record) error

	// Close flushes any buffered state and releases the writer's resources.
	Close() error
}
