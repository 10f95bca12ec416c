package export

import (
	"log"

	"github.com/sangyf/flowparser/internal/config"
	"github.com/sangyf/flowparser/internal/model"
)

// BuildWriters creates every writer enabled in the export configuration.
func BuildWriters(cfg config.ExportConfig) ([]model.Writer, error) {
	var writers []model.Writer

	if cfg.Gob.Enabled {
		w, err := NewGobWriter(cfg.Gob.RootPath)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
		log.Printf("Gob writer enabled, root path %s", cfg.Gob.RootPath)
	}

	if cfg.ClickHouse.Enabled {
		w, err := NewClickHouseWriter(cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	if cfg.NATS.Enabled {
		w, err := NewPublisher(cfg.NATS)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	return writers, nil
}
