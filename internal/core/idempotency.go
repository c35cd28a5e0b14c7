package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotentResult wraps a stored or fresh response. Replay is true when the
// response came from the idempotency store rather than a fresh execution.
type IdempotentResult struct {
	Response json.RawMessage
	Replay   bool
}

// Fingerprint computes the stable hash of a request: canonical body plus
// route plus tenant. Two requests with the same key but different
// fingerprints conflict.
func Fingerprint(companyID int, route string, body []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\n%s\n", companyID, route)
	h.Write(canonicalJSON(body))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON re-marshals the body so key order and whitespace do not
// change the fingerprint. Unparseable bodies hash as raw bytes.
func canonicalJSON(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}

// RunIdempotent guarantees at-most-one execution of build per (tenant, key).
//
// The whole operation — advisory lock, replay check, business write, and the
// idempotency row — runs in one transaction, so a failure inside build rolls
// back both the business write and the idempotency record.
func RunIdempotent(ctx context.Context, pool *pgxpool.Pool, companyID int, key, fingerprint string,
	build func(ctx context.Context, tx pgx.Tx) (any, error)) (*IdempotentResult, error) {

	if companyID <= 0 {
		return nil, E(KindTenant, "idempotent write requires a tenant")
	}
	if key == "" || len(key) > 128 {
		return nil, E(KindValidation, "idempotency key must be 1-128 characters")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent requests carrying the same key. The xact lock
	// releases automatically on commit or rollback.
	if _, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))",
		fmt.Sprintf("idem:%d:%s", companyID, key),
	); err != nil {
		return nil, fmt.Errorf("failed to take idempotency lock: %w", err)
	}

	var storedFingerprint string
	var storedResponse json.RawMessage
	err = tx.QueryRow(ctx, `
		SELECT fingerprint_hash, stored_response
		FROM idempotency_records
		WHERE company_id = $1 AND key = $2
	`, companyID, key).Scan(&storedFingerprint, &storedResponse)
	switch {
	case err == nil:
		if storedFingerprint != fingerprint {
			return nil, E(KindIdempotencyConflict, "idempotency key %q was already used with a different request", key)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit replay read: %w", err)
		}
		return &IdempotentResult{Response: storedResponse, Replay: true}, nil
	case errors.Is(err, pgx.ErrNoRows):
		// first execution
	default:
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	result, err := build(ctx, tx)
	if err != nil {
		return nil, err
	}

	response, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal idempotent response: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO idempotency_records (company_id, key, fingerprint_hash, stored_response)
		VALUES ($1, $2, $3, $4)
	`, companyID, key, fingerprint, response); err != nil {
		return nil, fmt.Errorf("failed to store idempotency record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit idempotent write: %w", err)
	}
	return &IdempotentResult{Response: response, Replay: false}, nil
}
