package service

import (
	"time"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/settlement"
	"github.com/loopworks/rotor/pkg/store"
)

func (s *Service) opSettlementStart(o *opContext) (map[string]any, error) {
	var params struct {
		CycleID              string `json:"cycle_id"`
		DepositWindowSeconds int    `json:"deposit_window_seconds"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := s.authorizeCycle(o, params.CycleID); err != nil {
		return nil, err
	}
	window := settlement.DefaultDepositWindow
	if params.DepositWindowSeconds > 0 {
		window = time.Duration(params.DepositWindowSeconds) * time.Second
	}
	timeline, err := s.settlement.Start(o.st, o.auth, params.CycleID, window)
	if err != nil {
		return nil, err
	}
	return asBody("timeline", timeline)
}

func (s *Service) opSettlementDepositConfirmed(o *opContext) (map[string]any, error) {
	var params struct {
		CycleID    string `json:"cycle_id"`
		IntentID   string `json:"intent_id"`
		DepositRef string `json:"deposit_ref"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := s.authorizeCycle(o, params.CycleID); err != nil {
		return nil, err
	}
	timeline, changed, err := s.settlement.ConfirmDeposit(o.st, o.auth, params.CycleID, params.IntentID, params.DepositRef)
	if err != nil {
		return nil, err
	}
	body, err := asBody("timeline", timeline)
	if err != nil {
		return nil, err
	}
	body["changed"] = changed
	return body, nil
}

func (s *Service) opSettlementExpire(o *opContext) (map[string]any, error) {
	return s.driveCycle(o, s.settlement.ExpireDepositWindow)
}

func (s *Service) opSettlementBeginExecution(o *opContext) (map[string]any, error) {
	return s.driveCycle(o, s.settlement.BeginExecution)
}

func (s *Service) opSettlementComplete(o *opContext) (map[string]any, error) {
	var params struct {
		CycleID string `json:"cycle_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := s.authorizeCycle(o, params.CycleID); err != nil {
		return nil, err
	}
	timeline, err := s.settlement.Complete(o.st, o.auth, params.CycleID)
	if err != nil {
		return nil, err
	}
	body, err := asBody("timeline", timeline)
	if err != nil {
		return nil, err
	}
	if receipt, ok := o.st.ReceiptForCycle(params.CycleID); ok {
		rb, err := asBody("receipt", receipt)
		if err != nil {
			return nil, err
		}
		body["receipt"] = rb["receipt"]
	}
	return body, nil
}

func (s *Service) opSettlementFail(o *opContext) (map[string]any, error) {
	var params struct {
		CycleID string `json:"cycle_id"`
		Reason  string `json:"reason"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := s.authorizeCycle(o, params.CycleID); err != nil {
		return nil, err
	}
	timeline, err := s.settlement.Fail(o.st, o.auth, params.CycleID, params.Reason)
	if err != nil {
		return nil, err
	}
	return asBody("timeline", timeline)
}

func (s *Service) opSettlementGet(o *opContext) (map[string]any, error) {
	var params struct {
		CycleID string `json:"cycle_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	timeline, err := s.settlement.Get(o.st, params.CycleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCycle(o, params.CycleID); err != nil {
		return nil, err
	}
	return asBody("timeline", timeline)
}

// driveCycle runs one cycle-ID-only transition.
func (s *Service) driveCycle(o *opContext, fn func(*store.State, *contracts.AuthContext, string) (*contracts.Timeline, error)) (map[string]any, error) {
	var params struct {
		CycleID string `json:"cycle_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := s.authorizeCycle(o, params.CycleID); err != nil {
		return nil, err
	}
	timeline, err := fn(o.st, o.auth, params.CycleID)
	if err != nil {
		return nil, err
	}
	return asBody("timeline", timeline)
}

func (s *Service) authorizeCycle(o *opContext, cycleID string) error {
	if partner := o.st.PartnerForCycle(cycleID); partner != "" {
		return o.authorizeResource(partner, map[string]any{"cycle_id": cycleID})
	}
	return nil
}
