package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when NATSConfig.Subject is empty.
const DefaultSubject = "qlearner.events"

// NATSBus publishes learner events on a NATS core subject.
type NATSBus struct {
	nc      *nats.Conn
	subject string
}

// NATSConfig selects the server and subject. Empty fields take defaults.
type NATSConfig struct {
	URL     string
	Subject string
}

// NewNATSBus connects to the server with unlimited reconnects.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("lab-qlearner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSBus{nc: nc, subject: subject}, nil
}

// Publish sends evt as JSON on the bus subject.
func (b *NATSBus) Publish(ctx context.Context, evt Event) error {
	if !evt.MinimalValidate() {
		return fmt.Errorf("invalid event: missing required fields")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.nc.Publish(b.subject, data)
}

// Subscribe calls handler for every decodable event until ctx is done.
func (b *NATSBus) Subscribe(ctx context.Context, handler func(Event)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			handler(evt)
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	return b.nc.Drain()
}
