package settlement

import (
	"github.com/loopworks/rotor/pkg/attest"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/store"
)

// issueReceipt signs the terminal record of a cycle and appends it to the
// receipts journal, folding the journal's attestation head over the signed
// form. Exactly one receipt exists per cycle; its ID is derived from the
// cycle so replays of the same terminal decision collide instead of
// duplicating.
func (e *Engine) issueReceipt(st *store.State, actor contracts.ActorRef, timeline *contracts.Timeline, final contracts.ReceiptState, transparency map[string]any) error {
	receipt := &contracts.Receipt{
		ID:         "receipt_" + timeline.CycleID,
		CycleID:    timeline.CycleID,
		FinalState: final,
		IntentIDs:  make([]string, len(timeline.Legs)),
		AssetIDs:   make([]string, len(timeline.Legs)),
		CreatedAt:  e.now().UTC(),
	}
	for i, leg := range timeline.Legs {
		receipt.IntentIDs[i] = leg.IntentID
		receipt.AssetIDs[i] = leg.AssetID
	}
	if len(transparency) > 0 {
		receipt.Transparency = transparency
	}

	signer, err := e.keys.ActiveSigner()
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "sign receipt: %v", err)
	}
	sig, err := crypto.SignPayload(signer, receipt.WithoutSignature())
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "sign receipt: %v", err)
	}
	receipt.Signature = &sig

	st.AppendReceipt(receipt)
	head := st.ChainHeadFor(store.JournalReceipts)
	next, err := attest.NextHash(head.Head, receipt)
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "fold receipt chain: %v", err)
	}
	st.SetChainHead(store.JournalReceipts, next, head.Length+1)

	e.log.Info("receipt issued", "receipt_id", receipt.ID, "cycle_id", timeline.CycleID, "final_state", string(final))
	return e.emit(st, actor, contracts.EventReceiptIssued, timeline.CycleID, map[string]any{
		"receipt_id":  receipt.ID,
		"cycle_id":    timeline.CycleID,
		"final_state": string(final),
	})
}

// VerifyReceipt checks a receipt's signature against the key set.
func VerifyReceipt(keys *crypto.KeySet, receipt *contracts.Receipt) error {
	result := crypto.VerifyPayload(keys, receipt.WithoutSignature(), receipt.Signature)
	switch result.Outcome {
	case crypto.VerifyOK:
		return nil
	case crypto.VerifyUnknownKey:
		return contracts.Errorf(contracts.CodeUnknownKeyID, "receipt %s signed by unknown key %s", receipt.ID, result.KeyID)
	default:
		return contracts.Errorf(contracts.CodeSignatureInvalid, "receipt %s signature does not verify", receipt.ID).
			WithDetail("outcome", string(result.Outcome))
	}
}
