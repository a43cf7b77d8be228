package contracts

import "time"

// IdempotencyRecord pins a completed operation to its scope key. Replays
// with the same payload hash return the stored result; replays with a
// different hash are conflicts.
type IdempotencyRecord struct {
	ScopeKey    string    `json:"scope_key"`
	PayloadHash string    `json:"payload_hash"`
	Result      Result    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}
