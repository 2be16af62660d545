// Package bus publishes supervision events over NATS.
//
// The bus is optional infrastructure: when NATS is unreachable the daemon
// still supervises, it just stops broadcasting. Every method is nil-safe so
// callers never guard their publishes.
package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event subjects.
const (
	SubjectAnalysisComplete = "supervision.analysis.complete"
	SubjectAlertRaised      = "supervision.alert.raised"
	SubjectItemCompleted    = "supervision.item.completed"

	// SubjectWildcard subscribes to every supervision event.
	SubjectWildcard = "supervision.>"
)

// Bus wraps an optional NATS connection.
type Bus struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// Connect dials NATS. Connection failure is downgraded to a disconnected
// bus with a logged warning; the daemon runs without eventing.
func Connect(url string, logger *zap.Logger) *Bus {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
	)
	if err != nil {
		logger.Warn("event bus unavailable, continuing without eventing",
			zap.String("url", url),
			zap.Error(err))
		return &Bus{logger: logger}
	}
	return &Bus{nc: nc, logger: logger}
}

// New wraps an existing connection. nc may be nil.
func New(nc *nats.Conn, logger *zap.Logger) *Bus {
	return &Bus{nc: nc, logger: logger}
}

// Connected reports whether events are actually being delivered.
func (b *Bus) Connected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

// Conn exposes the underlying connection for subscribers (SSE bridge).
// Returns nil when disconnected.
func (b *Bus) Conn() *nats.Conn {
	if b == nil {
		return nil
	}
	return b.nc
}

// Publish sends a JSON-encoded payload. Failures are logged, never returned;
// eventing is best-effort by design.
func (b *Bus) Publish(subject string, payload any) {
	if b == nil || b.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Debug("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection.
func (b *Bus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	b.nc.Close()
}
