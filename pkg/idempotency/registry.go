// Package idempotency implements keyed-request replay detection.
//
// A request's replay namespace is the scope key
// "<operation>|<idempotency_key>|<actor_fingerprint>". A stored record
// binds that key to the hash of the canonical request payload: replays
// with the same hash return the stored result, replays with a different
// hash are conflicts. Records are committed only after an operation
// succeeds observably, so failed validations never poison a key. The
// registry rides the store state tree and is unbounded.
package idempotency

import (
	"fmt"
	"time"

	"github.com/loopworks/rotor/pkg/canonicalize"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/store"
)

// Disposition classifies an idempotency lookup.
type Disposition string

const (
	// Miss means the scope key is unused and the operation should proceed.
	Miss Disposition = "miss"
	// Replay means the stored result must be returned with replayed=true.
	Replay Disposition = "replay"
	// Conflict means the key was reused with a different payload.
	Conflict Disposition = "conflict"
)

// Check is the outcome of an idempotency lookup.
type Check struct {
	Disposition Disposition
	// Stored is the replayable result. Set only for Replay.
	Stored contracts.Result
}

// ScopeKey builds the replay namespace for one request.
func ScopeKey(operation, idempotencyKey string, actor contracts.ActorRef) string {
	return fmt.Sprintf("%s|%s|%s", operation, idempotencyKey, actor.Fingerprint())
}

// PayloadHash hashes the canonical form of a request body.
func PayloadHash(body any) (string, error) {
	return canonicalize.Hash(body)
}

// Evaluate looks up a scope key in the registry.
func Evaluate(st *store.State, scopeKey, payloadHash string) Check {
	rec, ok := st.Idempotency[scopeKey]
	if !ok {
		return Check{Disposition: Miss}
	}
	if rec.PayloadHash != payloadHash {
		return Check{Disposition: Conflict}
	}
	stored := rec.Result
	stored.Replayed = true
	return Check{Disposition: Replay, Stored: stored}
}

// Commit records a successful result under the scope key. The stored
// envelope keeps Replayed=false; Evaluate sets it on the way out.
func Commit(st *store.State, scopeKey, payloadHash string, result contracts.Result, now time.Time) {
	result.Replayed = false
	st.Idempotency[scopeKey] = &contracts.IdempotencyRecord{
		ScopeKey:    scopeKey,
		PayloadHash: payloadHash,
		Result:      result,
		CreatedAt:   now.UTC(),
	}
}

// ConflictError is the coded failure for a reused key with a different
// payload.
func ConflictError(scopeKey string) *contracts.Error {
	return contracts.NewError(contracts.CodeIdempotency, "idempotency key reused with a different payload").
		WithReason(contracts.ReasonPayloadHashMismatch).
		WithDetail("scope_key", scopeKey)
}
