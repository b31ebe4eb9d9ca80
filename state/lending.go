package state

import (
	"encoding/json"
	"errors"

	"basin/native/lending"
	"basin/storage"
)

const (
	reservePrefix  = "lending/reserve/"
	positionPrefix = "lending/pos/"
	configPrefix   = "lending/cfg/"
	feesPrefix     = "lending/fees/"
	assetIndexKey  = "lending/assets"
)

// LendingStore persists the lending engine's records as JSON documents in a
// key-value database. Every read decodes a fresh copy, which satisfies the
// engine's contract that returned records may be freely mutated before being
// written back. Absent records come back as (nil, nil).
type LendingStore struct {
	db storage.Database
}

var _ lending.State = (*LendingStore)(nil)

func NewLendingStore(db storage.Database) *LendingStore {
	return &LendingStore{db: db}
}

func (s *LendingStore) get(key string, out any) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LendingStore) put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), raw)
}

func (s *LendingStore) GetReserve(asset string) (*lending.Reserve, error) {
	var reserve lending.Reserve
	ok, err := s.get(reservePrefix+asset, &reserve)
	if err != nil || !ok {
		return nil, err
	}
	return &reserve, nil
}

func (s *LendingStore) PutReserve(asset string, reserve *lending.Reserve) error {
	if err := s.put(reservePrefix+asset, reserve); err != nil {
		return err
	}
	return s.indexAsset(asset, true)
}

func (s *LendingStore) DeleteReserve(asset string) error {
	if err := s.db.Delete([]byte(reservePrefix + asset)); err != nil {
		return err
	}
	return s.indexAsset(asset, false)
}

func (s *LendingStore) ListReserveAssets() ([]string, error) {
	var assets []string
	if _, err := s.get(assetIndexKey, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (s *LendingStore) GetPosition(user, asset string) (*lending.UserReserveData, error) {
	var position lending.UserReserveData
	ok, err := s.get(positionKey(user, asset), &position)
	if err != nil || !ok {
		return nil, err
	}
	return &position, nil
}

func (s *LendingStore) PutPosition(user, asset string, position *lending.UserReserveData) error {
	return s.put(positionKey(user, asset), position)
}

func (s *LendingStore) GetUserConfig(user string) (*lending.UserConfiguration, error) {
	cfg := &lending.UserConfiguration{}
	ok, err := s.get(configPrefix+user, cfg)
	if err != nil || !ok {
		return nil, err
	}
	return cfg, nil
}

func (s *LendingStore) PutUserConfig(user string, cfg *lending.UserConfiguration) error {
	return s.put(configPrefix+user, cfg)
}

func (s *LendingStore) GetFeeAccrual(asset string) (*lending.FeeAccrual, error) {
	var fees lending.FeeAccrual
	ok, err := s.get(feesPrefix+asset, &fees)
	if err != nil || !ok {
		return nil, err
	}
	return &fees, nil
}

func (s *LendingStore) PutFeeAccrual(asset string, fees *lending.FeeAccrual) error {
	return s.put(feesPrefix+asset, fees)
}

// indexAsset keeps the listing order stable: assets are appended on first
// write and removed on delete.
func (s *LendingStore) indexAsset(asset string, listed bool) error {
	assets, err := s.ListReserveAssets()
	if err != nil {
		return err
	}
	if listed {
		for _, existing := range assets {
			if existing == asset {
				return nil
			}
		}
		return s.put(assetIndexKey, append(assets, asset))
	}
	for i, existing := range assets {
		if existing == asset {
			return s.put(assetIndexKey, append(assets[:i], assets[i+1:]...))
		}
	}
	return nil
}

func positionKey(user, asset string) string {
	return positionPrefix + user + "/" + asset
}
