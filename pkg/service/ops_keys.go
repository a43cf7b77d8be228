package service

import (
	"errors"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
)

func (s *Service) opKeysRotate(o *opContext) (map[string]any, error) {
	var params struct {
		KeyID string `json:"key_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if _, err := s.keys.Rotate(params.KeyID); err != nil {
		return nil, codedKeyError(err)
	}
	return s.keyListing()
}

func (s *Service) opKeysRevoke(o *opContext) (map[string]any, error) {
	var params struct {
		KeyID string `json:"key_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := s.keys.Revoke(params.KeyID); err != nil {
		return nil, codedKeyError(err)
	}
	return s.keyListing()
}

// codedKeyError maps key set sentinels onto the stable operation codes.
func codedKeyError(err error) error {
	switch {
	case errors.Is(err, crypto.ErrKeyNotFound):
		return contracts.Errorf(contracts.CodeNotFound, "%v", err)
	case errors.Is(err, crypto.ErrDuplicateKey), errors.Is(err, crypto.ErrKeyRevoked):
		return contracts.Errorf(contracts.CodeConflict, "%v", err)
	default:
		return contracts.AsError(err)
	}
}

func (s *Service) opKeysList(o *opContext) (map[string]any, error) {
	return s.keyListing()
}

func (s *Service) keyListing() (map[string]any, error) {
	listing := make([]map[string]any, 0)
	for _, keyID := range s.keys.KeyIDs() {
		status, err := s.keys.Status(keyID)
		if err != nil {
			return nil, err
		}
		listing = append(listing, map[string]any{
			"key_id": keyID,
			"status": string(status),
		})
	}
	return map[string]any{
		"keys":          listing,
		"active_key_id": s.keys.ActiveKeyID(),
	}, nil
}
