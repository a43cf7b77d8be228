// Package contracts defines the shared wire and storage types of the rotor
// runtime: actors, intents, cycles, timelines, receipts, vault holdings,
// delegation grants, event envelopes, export payloads, and the stable error
// codes every operation returns.
package contracts

import "fmt"

// ActorType classifies the principal behind a request or resource.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorPartner ActorType = "partner"
	ActorAdmin   ActorType = "admin"
	ActorService ActorType = "service"
)

// Valid reports whether the actor type is one of the supported kinds.
func (t ActorType) Valid() bool {
	switch t {
	case ActorUser, ActorPartner, ActorAdmin, ActorService:
		return true
	default:
		return false
	}
}

// ActorRef identifies a principal. Equality is by (type, id).
type ActorRef struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// Fingerprint returns the canonical "type:id" form used for idempotency
// scoping and rate-limit bucketing.
func (a ActorRef) Fingerprint() string {
	return fmt.Sprintf("%s:%s", a.Type, a.ID)
}

// Equal reports whether two refs name the same principal.
func (a ActorRef) Equal(other ActorRef) bool {
	return a.Type == other.Type && a.ID == other.ID
}

// Zero reports whether the ref is unset.
func (a ActorRef) Zero() bool {
	return a.Type == "" && a.ID == ""
}
