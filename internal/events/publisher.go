package events

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher delivers committed events to downstream consumers.
// At-least-once is acceptable; ordering is not guaranteed.
type Publisher interface {
	Publish(evtType string, payload []byte) error
	Close()
}

const subjectPrefix = "strategist.events."

// NATSPublisher publishes events on strategist.events.<type>.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("strategist"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(evtType string, payload []byte) error {
	return p.conn.Publish(subjectPrefix+evtType, payload)
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
	}
}
