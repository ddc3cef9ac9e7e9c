package dlq

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/assetsync/internal/messaging"
)

// NATSQueue publishes failed records to <prefix>.dlq.<reason>.
type NATSQueue struct {
	pub     messaging.Publisher
	prefix  string
	written uint64
}

// NewNATSQueue creates a DLQ backed by a NATS publisher.
func NewNATSQueue(pub messaging.Publisher, subjectPrefix string) (*NATSQueue, error) {
	if pub == nil {
		return nil, fmt.Errorf("nats publisher is nil")
	}
	return &NATSQueue{pub: pub, prefix: subjectPrefix}, nil
}

// Write publishes a failed record.
func (q *NATSQueue) Write(ctx context.Context, rec FailedRecord) error {
	if q == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	subject := messaging.Subject(q.prefix, "dlq", rec.Reason)
	if err := q.pub.PublishJSON(ctx, subject, rec); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	atomic.AddUint64(&q.written, 1)
	return nil
}

// Written returns the number of records published by this queue.
func (q *NATSQueue) Written() uint64 {
	if q == nil {
		return 0
	}
	return atomic.LoadUint64(&q.written)
}
