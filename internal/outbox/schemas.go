package outbox

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// Payload shapes, one per event type. The payload field is never an open
// map: consumers dispatch on (eventType, schemaVersion) to one of these.

// JournalEntryCreatedPayload accompanies journal.entry.created.
type JournalEntryCreatedPayload struct {
	EntryID     int    `json:"entry_id"`
	EntryDate   string `json:"entry_date"`
	Description string `json:"description"`
	LineCount   int    `json:"line_count"`
	TotalDebit  string `json:"total_debit"`
}

// DocumentPostedPayload accompanies invoice.posted, invoice.voided,
// credit_note.posted and bill.posted.
type DocumentPostedPayload struct {
	DocumentID     int    `json:"document_id"`
	DocumentNumber string `json:"document_number"`
	PartyID        int    `json:"party_id"`
	Total          string `json:"total"`
	JournalEntryID int    `json:"journal_entry_id"`
}

// PaymentPayload accompanies payment.recorded, payment.reversed and
// bill.payment.recorded.
type PaymentPayload struct {
	PaymentID      int    `json:"payment_id"`
	DocumentID     int    `json:"document_id"`
	Amount         string `json:"amount"`
	JournalEntryID int    `json:"journal_entry_id"`
}

// SchemaRegistry holds the generated JSON schema per (eventType, version).
type SchemaRegistry struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry reflects the payload structs into JSON schemas. The
// registry backs the public schema endpoint and envelope validation in tests.
func NewSchemaRegistry() *SchemaRegistry {
	r := &jsonschema.Reflector{DoNotReference: true}
	reg := &SchemaRegistry{schemas: map[string]*jsonschema.Schema{}}

	add := func(eventType string, v any) {
		reg.schemas[schemaKey(eventType, SchemaV1)] = r.Reflect(v)
	}
	add(TypeJournalEntryCreated, &JournalEntryCreatedPayload{})
	add(TypeInvoicePosted, &DocumentPostedPayload{})
	add(TypeInvoiceVoided, &DocumentPostedPayload{})
	add(TypeCreditNotePosted, &DocumentPostedPayload{})
	add(TypeBillPosted, &DocumentPostedPayload{})
	add(TypePaymentRecorded, &PaymentPayload{})
	add(TypePaymentReversed, &PaymentPayload{})
	add(TypeBillPaymentRecorded, &PaymentPayload{})
	return reg
}

// SchemaFor returns the payload schema for an event type and version.
func (s *SchemaRegistry) SchemaFor(eventType, version string) (*jsonschema.Schema, error) {
	sc, ok := s.schemas[schemaKey(eventType, version)]
	if !ok {
		return nil, fmt.Errorf("no schema registered for %s %s", eventType, version)
	}
	return sc, nil
}

// Types lists every registered (eventType, version) pair.
func (s *SchemaRegistry) Types() []string {
	out := make([]string, 0, len(s.schemas))
	for k := range s.schemas {
		out = append(out, k)
	}
	return out
}

func schemaKey(eventType, version string) string {
	return eventType + "@" + version
}
