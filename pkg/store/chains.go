package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custos-tech/custos/pkg/types"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// GetChain loads a chain by id.
func (s *Store) GetChain(ctx context.Context, id int64) (*types.Chain, error) {
	var c types.Chain
	err := s.db.GetContext(ctx, &c, `SELECT * FROM chains WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chain %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chain %d: %w", id, err)
	}
	return &c, nil
}

// GetChainByName loads a chain by its unique name.
func (s *Store) GetChainByName(ctx context.Context, name string) (*types.Chain, error) {
	var c types.Chain
	err := s.db.GetContext(ctx, &c, `SELECT * FROM chains WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chain %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chain %q: %w", name, err)
	}
	return &c, nil
}

// GetAssetOnChain loads an asset deployment by id.
func (s *Store) GetAssetOnChain(ctx context.Context, id int64) (*types.AssetOnChain, error) {
	var a types.AssetOnChain
	err := s.db.GetContext(ctx, &a, `SELECT * FROM asset_on_chain WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset_on_chain %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get asset_on_chain %d: %w", id, err)
	}
	return &a, nil
}

// GetAssetOnChainByAsset resolves an (asset_id, chain_id) pair.
func (s *Store) GetAssetOnChainByAsset(ctx context.Context, assetID, chainID int64) (*types.AssetOnChain, error) {
	var a types.AssetOnChain
	err := s.db.GetContext(ctx, &a,
		`SELECT * FROM asset_on_chain WHERE asset_id = $1 AND chain_id = $2`, assetID, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: asset %d on chain %d", ErrNotFound, assetID, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get asset %d on chain %d: %w", assetID, chainID, err)
	}
	return &a, nil
}

// GetUserWallet loads a user wallet address row by id.
func (s *Store) GetUserWallet(ctx context.Context, id int64) (*types.UserWalletAddress, error) {
	var w types.UserWalletAddress
	err := s.db.GetContext(ctx, &w, `SELECT * FROM user_wallet_addresses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user wallet %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user wallet %d: %w", id, err)
	}
	return &w, nil
}

// GetUserWalletByAddress resolves a deposit address on a chain to its owner.
func (s *Store) GetUserWalletByAddress(ctx context.Context, chainID int64, address string) (*types.UserWalletAddress, error) {
	var w types.UserWalletAddress
	err := s.db.GetContext(ctx, &w,
		`SELECT * FROM user_wallet_addresses WHERE chain_id = $1 AND lower(address) = lower($2)`,
		chainID, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user wallet %s on chain %d", ErrNotFound, address, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user wallet by address: %w", err)
	}
	return &w, nil
}

// GetOperationWallet loads an operation wallet by id.
func (s *Store) GetOperationWallet(ctx context.Context, id int64) (*types.OperationWalletAddress, error) {
	var w types.OperationWalletAddress
	err := s.db.GetContext(ctx, &w, `SELECT * FROM operation_wallet_addresses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: operation wallet %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get operation wallet %d: %w", id, err)
	}
	return &w, nil
}

// NextHotWallet picks the least recently used active hot wallet on a chain.
// Ordering by last_used_at with NULLS FIRST gives deterministic round-robin.
func (s *Store) NextHotWallet(ctx context.Context, chainID int64) (*types.OperationWalletAddress, error) {
	var w types.OperationWalletAddress
	err := s.db.GetContext(ctx, &w, `
		SELECT * FROM operation_wallet_addresses
		WHERE chain_id = $1 AND role = 'hot' AND is_active
		ORDER BY last_used_at ASC NULLS FIRST, id ASC
		LIMIT 1`, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active hot wallet on chain %d", ErrNotFound, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: next hot wallet on chain %d: %w", chainID, err)
	}
	return &w, nil
}

// NextGasWallet picks the least recently used active gas wallet on a chain.
func (s *Store) NextGasWallet(ctx context.Context, chainID int64) (*types.OperationWalletAddress, error) {
	var w types.OperationWalletAddress
	err := s.db.GetContext(ctx, &w, `
		SELECT * FROM operation_wallet_addresses
		WHERE chain_id = $1 AND role = 'gas' AND is_active
		ORDER BY last_used_at ASC NULLS FIRST, id ASC
		LIMIT 1`, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active gas wallet on chain %d", ErrNotFound, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: next gas wallet on chain %d: %w", chainID, err)
	}
	return &w, nil
}

// TouchOperationWallet stamps last_used_at for round-robin bookkeeping.
func (s *Store) TouchOperationWallet(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE operation_wallet_addresses SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("store: touch operation wallet %d: %w", id, err)
	}
	return nil
}
