package export

import (
	"bytes"
	"encoding/gob"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/sangyf/flowparser/internal/config"
	"github.com/sangyf/flowparser/internal/model"
)

// Publisher delivers finalized flow records to a NATS subject, gob-encoded.
// It implements model.Writer.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects to the NATS server named in the config.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Write serializes one record and publishes it.
func (p *Publisher) Write(rec *model.Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return p.nc.Publish(p.subject, buf.Bytes())
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
	return nil
}

// RecordHandler is a function that processes a received flow record.
type RecordHandler func(rec *model.Record)

// Subscriber receives finalized flow records from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber connects to the NATS server named in the config.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes and dispatches each decoded record to the handler.
func (s *Subscriber) Start(handler RecordHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var rec model.Record
		if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&rec); err != nil {
			log.Printf("Error decoding record: %v", err)
			return
		}
		handler(&rec)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for records...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
