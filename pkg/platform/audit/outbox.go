package audit

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEntry is a serialized audit event waiting to be relayed to Kafka.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}
