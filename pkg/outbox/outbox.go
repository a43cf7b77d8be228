// Package outbox appends signed domain events to the append-only events
// journal and re-ingests externally delivered envelopes.
//
// Event IDs are deterministic over (type, correlation_id, payload), so a
// re-emitted or re-delivered event lands on the same ID and the journal
// dedup absorbs it. The dedup set is the journal itself and survives
// restarts with it.
package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loopworks/rotor/pkg/attest"
	"github.com/loopworks/rotor/pkg/canonicalize"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/store"
)

// Outbox signs and appends event envelopes.
type Outbox struct {
	keys *crypto.KeySet
	now  func() time.Time
	log  *slog.Logger
}

func New(keys *crypto.KeySet) *Outbox {
	return &Outbox{
		keys: keys,
		now:  time.Now,
		log:  slog.Default().With("component", "outbox"),
	}
}

// WithClock overrides the timestamp source. Useful in tests.
func (o *Outbox) WithClock(now func() time.Time) *Outbox {
	o.now = now
	return o
}

// EventID derives the deterministic identifier for a domain event:
// evt_<resource>_<hash8> where resource is the first segment of the event
// type and hash8 covers (type, correlation_id, payload). occurred_at is
// excluded so re-emissions of the same fact collide.
func EventID(eventType, correlationID string, payload map[string]any) (string, error) {
	digest, err := canonicalize.Hash(map[string]any{
		"type":           eventType,
		"correlation_id": correlationID,
		"payload":        payload,
	})
	if err != nil {
		return "", fmt.Errorf("outbox: event id: %w", err)
	}
	resource := eventType
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		resource = eventType[:i]
	}
	return fmt.Sprintf("evt_%s_%s", resource, digest[:8]), nil
}

// Append signs a new envelope and appends it to the events journal,
// folding the journal chain forward. The second return is false when the
// event was already present and nothing changed.
func (o *Outbox) Append(st *store.State, actor contracts.ActorRef, eventType, correlationID string, payload map[string]any) (*contracts.EventEnvelope, bool, error) {
	id, err := EventID(eventType, correlationID, payload)
	if err != nil {
		return nil, false, contracts.AsError(err)
	}
	if st.HasEvent(id) {
		return nil, false, nil
	}

	env := &contracts.EventEnvelope{
		EventID:       id,
		Type:          eventType,
		OccurredAt:    o.now().UTC(),
		CorrelationID: correlationID,
		Actor:         actor,
		Payload:       payload,
	}
	signer, err := o.keys.ActiveSigner()
	if err != nil {
		return nil, false, contracts.Errorf(contracts.CodeInternal, "outbox signing key: %v", err)
	}
	sig, err := crypto.SignPayload(signer, env.WithoutSignature())
	if err != nil {
		return nil, false, contracts.AsError(err)
	}
	env.Signature = &sig

	if !st.AppendEvent(env) {
		return nil, false, nil
	}
	head := st.ChainHeadFor(store.JournalEvents)
	next, err := attest.NextHash(head.Head, env)
	if err != nil {
		return nil, false, contracts.AsError(err)
	}
	st.SetChainHead(store.JournalEvents, next, head.Length+1)
	return env, true, nil
}

// IngestOutcome classifies one ingested envelope.
type IngestOutcome string

const (
	IngestProcessed IngestOutcome = "processed"
	IngestSkipped   IngestOutcome = "skipped"
	IngestRejected  IngestOutcome = "rejected"
)

// IngestRecord reports what happened to the envelope at one input index.
type IngestRecord struct {
	Index   int           `json:"index"`
	EventID string        `json:"event_id,omitempty"`
	Outcome IngestOutcome `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
}

// IngestResult summarizes one ingest batch.
type IngestResult struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Rejected  int            `json:"rejected"`
	Records   []IngestRecord `json:"records"`
}

// Ingest re-applies externally delivered envelopes. Unknown envelopes with
// valid signatures are appended, known IDs skip, anything with a bad or
// missing signature is rejected and never marked seen. The signature check
// runs over the canonicalized wire bytes so unknown fields survive.
func (o *Outbox) Ingest(st *store.State, envelopes []json.RawMessage) *IngestResult {
	result := &IngestResult{Records: make([]IngestRecord, 0, len(envelopes))}
	for i, raw := range envelopes {
		rec := o.ingestOne(st, i, raw)
		result.Records = append(result.Records, rec)
		switch rec.Outcome {
		case IngestProcessed:
			result.Processed++
		case IngestSkipped:
			result.Skipped++
		case IngestRejected:
			result.Rejected++
		}
	}
	return result
}

func (o *Outbox) ingestOne(st *store.State, index int, raw []byte) IngestRecord {
	reject := func(eventID, reason string) IngestRecord {
		o.log.Warn("envelope rejected", "index", index, "event_id", eventID, "reason", reason)
		return IngestRecord{Index: index, EventID: eventID, Outcome: IngestRejected, Reason: reason}
	}

	var env contracts.EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return reject("", "malformed envelope")
	}
	if env.EventID == "" || env.Type == "" {
		return reject(env.EventID, "missing event_id or type")
	}
	if env.Signature.Empty() {
		return reject(env.EventID, "invalid_signature")
	}

	signedBytes, err := signedWireBytes(raw)
	if err != nil {
		return reject(env.EventID, "malformed envelope")
	}
	pub, err := o.keys.PublicKey(env.Signature.KeyID)
	if err != nil {
		return reject(env.EventID, "invalid_signature")
	}
	if !crypto.Verify(pub, signedBytes, env.Signature.Sig) {
		return reject(env.EventID, "invalid_signature")
	}

	if st.HasEvent(env.EventID) {
		return IngestRecord{Index: index, EventID: env.EventID, Outcome: IngestSkipped}
	}
	if !st.AppendEvent(&env) {
		return IngestRecord{Index: index, EventID: env.EventID, Outcome: IngestSkipped}
	}
	head := st.ChainHeadFor(store.JournalEvents)
	next, err := attest.NextHash(head.Head, &env)
	if err != nil {
		return reject(env.EventID, "attestation failure")
	}
	st.SetChainHead(store.JournalEvents, next, head.Length+1)
	return IngestRecord{Index: index, EventID: env.EventID, Outcome: IngestProcessed}
}

// signedWireBytes strips the signature member from the wire JSON and
// canonicalizes what remains. Working on the raw bytes keeps fields this
// build does not know about inside the signed surface.
func signedWireBytes(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	delete(doc, "signature")
	stripped, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return canonicalize.TransformRaw(stripped)
}
