package core_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"

	"accounting-core/internal/core"
)

func TestRunIdempotent_ExecutesOncePerKey(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Idem Co")
	ctx := context.Background()

	body := []byte(`{"amount":"100.00","note":"first"}`)
	fingerprint := core.Fingerprint(company.ID, "POST /things", body)

	executions := 0
	build := func(ctx context.Context, tx pgx.Tx) (any, error) {
		executions++
		return map[string]any{"id": 42}, nil
	}

	first, err := core.RunIdempotent(ctx, pool, company.ID, "key-1", fingerprint, build)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Replay {
		t.Error("First run reported as replay")
	}

	second, err := core.RunIdempotent(ctx, pool, company.ID, "key-1", fingerprint, build)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !second.Replay {
		t.Error("Second run not reported as replay")
	}
	if string(first.Response) != string(second.Response) {
		t.Errorf("Replay bytes differ: %s vs %s", first.Response, second.Response)
	}
	if executions != 1 {
		t.Errorf("Build executed %d times, want 1", executions)
	}
}

func TestRunIdempotent_ConflictOnDifferentFingerprint(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Conflict Co")
	ctx := context.Background()

	build := func(ctx context.Context, tx pgx.Tx) (any, error) { return "ok", nil }

	fp1 := core.Fingerprint(company.ID, "POST /things", []byte(`{"amount":"100.00"}`))
	if _, err := core.RunIdempotent(ctx, pool, company.ID, "key-1", fp1, build); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	fp2 := core.Fingerprint(company.ID, "POST /things", []byte(`{"amount":"999.00"}`))
	_, err := core.RunIdempotent(ctx, pool, company.ID, "key-1", fp2, build)
	if !core.IsKind(err, core.KindIdempotencyConflict) {
		t.Fatalf("Expected IDEMPOTENCY_CONFLICT, got %v", err)
	}
}

func TestRunIdempotent_FailedBuildLeavesNoRecord(t *testing.T) {
	pool := setupTestDB(t)
	company := newTestCompany(t, pool, "Rollback Co")
	ctx := context.Background()

	fp := core.Fingerprint(company.ID, "POST /things", []byte(`{}`))
	_, err := core.RunIdempotent(ctx, pool, company.ID, "key-1", fp,
		func(ctx context.Context, tx pgx.Tx) (any, error) {
			return nil, core.E(core.KindValidation, "bad request")
		})
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("Expected build error, got %v", err)
	}

	// A failed build rolls back the idempotency row too, so a retry executes.
	result, err := core.RunIdempotent(ctx, pool, company.ID, "key-1", fp,
		func(ctx context.Context, tx pgx.Tx) (any, error) { return "fixed", nil })
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if result.Replay {
		t.Error("Retry after failure reported as replay")
	}
}

func TestRunIdempotent_KeysAreTenantScoped(t *testing.T) {
	pool := setupTestDB(t)
	companyA := newTestCompany(t, pool, "Tenant A")
	companyB := newTestCompany(t, pool, "Tenant B")
	ctx := context.Background()

	executions := 0
	build := func(ctx context.Context, tx pgx.Tx) (any, error) {
		executions++
		return executions, nil
	}

	body := []byte(`{"amount":"10"}`)
	if _, err := core.RunIdempotent(ctx, pool, companyA.ID, "shared-key",
		core.Fingerprint(companyA.ID, "POST /things", body), build); err != nil {
		t.Fatalf("Tenant A run failed: %v", err)
	}
	resultB, err := core.RunIdempotent(ctx, pool, companyB.ID, "shared-key",
		core.Fingerprint(companyB.ID, "POST /things", body), build)
	if err != nil {
		t.Fatalf("Tenant B run failed: %v", err)
	}
	if resultB.Replay {
		t.Error("Tenant B replayed tenant A's record")
	}
	if executions != 2 {
		t.Errorf("Build executed %d times, want 2 (once per tenant)", executions)
	}
}

func TestFingerprint_CanonicalizesJSON(t *testing.T) {
	a := core.Fingerprint(1, "POST /x", []byte(`{"a":1,"b":2}`))
	b := core.Fingerprint(1, "POST /x", []byte(`{ "b": 2, "a": 1 }`))
	if a != b {
		t.Error("Key order or whitespace changed the fingerprint")
	}
	c := core.Fingerprint(1, "POST /x", []byte(`{"a":1,"b":3}`))
	if a == c {
		t.Error("Different bodies produced the same fingerprint")
	}
	d := core.Fingerprint(2, "POST /x", []byte(`{"a":1,"b":2}`))
	if a == d {
		t.Error("Different tenants produced the same fingerprint")
	}
}
