package events

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBus is the Bus implementation used when deltas must cross process
// boundaries (e.g. the WebSocket gateway runs separately from the core).
// Core NATS already provides FIFO per subject and at-most-once delivery,
// matching the contract exactly.
type NATSBus struct {
	nc *nats.Conn
}

// ConnectNATS dials a NATS server and wraps it as a Bus.
func ConnectNATS(url string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("waypoint-core"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSBus{nc: nc}, nil
}

// NewNATSBus wraps an existing connection (used by tests with an embedded
// or shared server).
func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

// Publish sends data on subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// Subscribe registers fn for subject. NATS invokes the callback in
// per-subject publication order.
func (b *NATSBus) Subscribe(subject string, fn func(data []byte)) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return natsSub{sub}, nil
}

// Close drains and closes the connection.
func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
