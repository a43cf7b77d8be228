package service

import (
	"encoding/json"
	"sort"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/export"
	"github.com/loopworks/rotor/pkg/settlement"
)

// runExport is the shared export path: bind the query, run the engine
// under the caller's tenancy view, return the sealed payload.
func (s *Service) runExport(o *opContext, kind string) (map[string]any, error) {
	q, err := bindExportQuery(o, kind)
	if err != nil {
		return nil, err
	}
	payload, err := s.exporter.Run(o.ctx, o.st, o.tenant(), q)
	if err != nil {
		return nil, err
	}
	return asBody("export", payload)
}

func bindExportQuery(o *opContext, kind string) (contracts.ExportQuery, error) {
	var q contracts.ExportQuery
	if err := o.bind(&q); err != nil {
		return q, err
	}
	q.Kind = kind
	return q, nil
}

func (s *Service) opReceiptsGet(o *opContext) (map[string]any, error) {
	receipt, err := s.loadReceipt(o)
	if err != nil {
		return nil, err
	}
	return asBody("receipt", receipt)
}

func (s *Service) opReceiptsExport(o *opContext) (map[string]any, error) {
	return s.runExport(o, export.KindReceipts)
}

// opReceiptsVerify re-verifies a stored receipt's signature against the
// current key set.
func (s *Service) opReceiptsVerify(o *opContext) (map[string]any, error) {
	receipt, err := s.loadReceipt(o)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"receipt_id": receipt.ID, "valid": true}
	if err := settlement.VerifyReceipt(s.keys, receipt); err != nil {
		coded := contracts.AsError(err)
		body["valid"] = false
		body["code"] = string(coded.Code)
		body["message"] = coded.Message
	}
	return body, nil
}

func (s *Service) loadReceipt(o *opContext) (*contracts.Receipt, error) {
	var params struct {
		ReceiptID string `json:"receipt_id"`
		CycleID   string `json:"cycle_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	var receipt *contracts.Receipt
	switch {
	case params.ReceiptID != "":
		r, ok := o.st.ReceiptByID(params.ReceiptID)
		if !ok {
			return nil, contracts.Errorf(contracts.CodeNotFound, "receipt %s not found", params.ReceiptID)
		}
		receipt = r
	case params.CycleID != "":
		r, ok := o.st.ReceiptForCycle(params.CycleID)
		if !ok {
			return nil, contracts.Errorf(contracts.CodeNotFound, "cycle %s has no receipt", params.CycleID)
		}
		receipt = r
	default:
		return nil, contracts.NewError(contracts.CodeValidation, "receipt_id or cycle_id required")
	}
	if partner := o.st.PartnerForCycle(receipt.CycleID); partner != "" {
		if err := o.authorizeResource(partner, nil); err != nil {
			return nil, err
		}
	}
	return receipt, nil
}

func (s *Service) opEventsExport(o *opContext) (map[string]any, error) {
	return s.runExport(o, export.KindEvents)
}

func (s *Service) opEventsIngest(o *opContext) (map[string]any, error) {
	var params struct {
		Envelopes []json.RawMessage `json:"envelopes"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	result := s.outbox.Ingest(o.st, params.Envelopes)
	return asBody("result", result)
}

func (s *Service) opCheckpointsList(o *opContext) (map[string]any, error) {
	var params struct {
		Kind string `json:"kind"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}

	checkpoints := make(map[string][]*contracts.ExportCheckpoint)
	kinds := make([]string, 0, len(o.st.ExportCheckpoints))
	for kind, rows := range o.st.ExportCheckpoints {
		if params.Kind != "" && kind != params.Kind {
			continue
		}
		checkpoints[kind] = rows
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	body, err := asBody("checkpoints", checkpoints)
	if err != nil {
		return nil, err
	}
	body["kinds"] = kinds
	return body, nil
}
