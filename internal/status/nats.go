package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject status updates are published on.
const DefaultSubject = "batch.status"

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each transition as JSON on a NATS subject.
type NATSSink struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

// NewNATSSink creates a sink publishing on subject.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject, now: time.Now}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("manifestgen"),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

func (s *NATSSink) Update(ctx context.Context, batchID string, st Status, historical bool) {
	data, err := json.Marshal(Update{BatchID: batchID, Status: st, Historical: historical, At: s.now().UTC()})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode status update", "batch_id", batchID, "error", err)
		return
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		slog.ErrorContext(ctx, "failed to publish status update",
			"batch_id", batchID,
			"status", st,
			"subject", s.subject,
			"error", err,
		)
	}
}
