package events

import (
	"context"
	"sync"
)

// Streams
const (
	StreamEscrow       = "events:escrow"
	StreamDistribution = "events:distribution"
	StreamDonor        = "events:donor"
)

// Event types
const (
	EventEscrowStatusChanged   = "escrow_status_changed"
	EventVerdictRecorded       = "verdict_recorded"
	EventDistributionCompleted = "distribution_completed"
	EventDonationReceived      = "donation_received"
	EventDonorEvolved          = "donor_evolved"
	EventCredentialIssued      = "credential_issued"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, handler func(stream string, e Event), streams ...string) error
}

// MemoryPublisher keeps published events in order. Used when Redis is not
// configured and in tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events map[string][]Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: make(map[string][]Event)}
}

func (p *MemoryPublisher) Publish(_ context.Context, stream string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[stream] = append(p.events[stream], event)
	return nil
}

// Events returns a copy of everything published to stream.
func (p *MemoryPublisher) Events(stream string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events[stream]...)
}

// Count returns how many events of type typ were published to stream.
func (p *MemoryPublisher) Count(stream, typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events[stream] {
		if e.Type == typ {
			n++
		}
	}
	return n
}
