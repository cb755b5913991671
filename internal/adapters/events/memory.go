package events

import (
	"context"
	"sync"
)

type PublishedEvent struct {
	EventType    string
	Payload      []byte
	PartitionKey string
}

type MemoryDomainPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

func NewMemoryDomainPublisher() *MemoryDomainPublisher {
	return &MemoryDomainPublisher{events: []PublishedEvent{}}
}

func (p *MemoryDomainPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{EventType: eventType, Payload: append([]byte(nil), payload...), PartitionKey: partitionKey})
	return nil
}

func (p *MemoryDomainPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}
