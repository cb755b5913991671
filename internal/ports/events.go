package ports

import "context"

type DomainPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}
