// Package outbox implements the transactional outbox: event rows written in
// the same database transaction as their cause, later leased and delivered to
// the downstream bus by the publisher.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Event types emitted by the core. Consumers dedupe on event_id and dispatch
// on (event_type, schema_version).
const (
	TypeJournalEntryCreated = "journal.entry.created"
	TypeInvoicePosted       = "invoice.posted"
	TypeInvoiceVoided       = "invoice.voided"
	TypePaymentRecorded     = "payment.recorded"
	TypePaymentReversed     = "payment.reversed"
	TypeCreditNotePosted    = "credit_note.posted"
	TypeBillPosted          = "bill.posted"
	TypeBillPaymentRecorded = "bill.payment.recorded"
)

// SchemaV1 is the only schema version currently produced.
const SchemaV1 = "v1"

// Event is one outbox row. Rows are inserted inside the transaction that
// produced the change they describe.
type Event struct {
	ID            int
	CompanyID     int
	EventID       uuid.UUID
	EventType     string
	SchemaVersion string
	OccurredAt    time.Time
	Source        string
	PartitionKey  string
	CorrelationID uuid.UUID
	CausationID   *uuid.UUID
	AggregateType string
	AggregateID   string
	Payload       json.RawMessage

	PublishedAt          *time.Time
	PublishAttempts      int
	LastPublishError     *string
	NextPublishAttemptAt *time.Time
	LockID               *uuid.UUID
	LockedAt             *time.Time
}

// Envelope is the canonical wire shape delivered to the bus.
type Envelope struct {
	EventID       uuid.UUID       `json:"eventId"`
	EventType     string          `json:"eventType"`
	SchemaVersion string          `json:"schemaVersion"`
	OccurredAt    time.Time       `json:"occurredAt"`
	TenantID      int             `json:"tenantId"`
	PartitionKey  string          `json:"partitionKey"`
	CorrelationID uuid.UUID       `json:"correlationId"`
	CausationID   *uuid.UUID      `json:"causationId,omitempty"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

// Envelope builds the wire envelope for an event row.
func (e *Event) Envelope() Envelope {
	return Envelope{
		EventID:       e.EventID,
		EventType:     e.EventType,
		SchemaVersion: e.SchemaVersion,
		OccurredAt:    e.OccurredAt,
		TenantID:      e.CompanyID,
		PartitionKey:  e.PartitionKey,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Source:        e.Source,
		Payload:       e.Payload,
	}
}

// AppendTx inserts an event row within the caller's transaction. Missing
// event and correlation ids are filled in; PartitionKey defaults to the
// tenant id, which is what downstream ordering keys on.
func AppendTx(ctx context.Context, tx pgx.Tx, e Event) (uuid.UUID, error) {
	if e.CompanyID <= 0 {
		return uuid.Nil, fmt.Errorf("outbox event requires a tenant id")
	}
	if e.EventType == "" || e.AggregateType == "" || e.AggregateID == "" {
		return uuid.Nil, fmt.Errorf("outbox event requires event type and aggregate")
	}
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.CorrelationID == uuid.Nil {
		e.CorrelationID = uuid.New()
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = SchemaV1
	}
	if e.PartitionKey == "" {
		e.PartitionKey = fmt.Sprintf("%d", e.CompanyID)
	}
	if e.Source == "" {
		e.Source = "accounting-core"
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events
			(company_id, event_id, event_type, schema_version, occurred_at, source,
			 partition_key, correlation_id, causation_id, aggregate_type, aggregate_id, payload)
		VALUES ($1, $2, $3, $4, NOW(), $5, $6, $7, $8, $9, $10, $11)
	`, e.CompanyID, e.EventID, e.EventType, e.SchemaVersion, e.Source,
		e.PartitionKey, e.CorrelationID, e.CausationID, e.AggregateType, e.AggregateID, e.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to append outbox event: %w", err)
	}
	return e.EventID, nil
}
