// Package bus defines the downstream notification bus contract. The core
// only needs "publish one envelope, keyed by partition"; any faithful
// replacement satisfies it.
package bus

import (
	"context"
	"sync"

	"accounting-core/internal/outbox"

	"github.com/rs/zerolog"
)

// Publisher delivers one envelope downstream. Implementations must be safe
// for concurrent use; delivery is at-least-once and consumers dedupe on
// eventId.
type Publisher interface {
	Publish(ctx context.Context, env outbox.Envelope) error
}

// LogPublisher writes envelopes to the structured log. It stands in for a
// real broker in development deployments.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p *LogPublisher) Publish(_ context.Context, env outbox.Envelope) error {
	p.Log.Info().
		Str("event_id", env.EventID.String()).
		Str("event_type", env.EventType).
		Str("partition_key", env.PartitionKey).
		Int("tenant_id", env.TenantID).
		RawJSON("payload", env.Payload).
		Msg("event published")
	return nil
}

// ChanPublisher buffers envelopes in memory. Used by tests and by the
// in-process projection worker wiring.
type ChanPublisher struct {
	mu   sync.Mutex
	C    chan outbox.Envelope
	Fail func(env outbox.Envelope) error // optional fault injection
}

func NewChanPublisher(size int) *ChanPublisher {
	return &ChanPublisher{C: make(chan outbox.Envelope, size)}
}

func (p *ChanPublisher) Publish(_ context.Context, env outbox.Envelope) error {
	p.mu.Lock()
	fail := p.Fail
	p.mu.Unlock()
	if fail != nil {
		if err := fail(env); err != nil {
			return err
		}
	}
	p.C <- env
	return nil
}

// SetFail installs or clears the fault injector.
func (p *ChanPublisher) SetFail(f func(env outbox.Envelope) error) {
	p.mu.Lock()
	p.Fail = f
	p.mu.Unlock()
}
