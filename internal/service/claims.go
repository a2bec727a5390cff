package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"acctshop-api/internal/cache"
	"acctshop-api/internal/model"
)

const claimKeyPrefix = "claim:"

// ClaimStore keeps one PendingClaim per buyer.
type ClaimStore struct {
	store cache.Store
	ttl   time.Duration
}

func NewClaimStore(store cache.Store, ttl time.Duration) *ClaimStore {
	return &ClaimStore{store: store, ttl: ttl}
}

func claimKey(buyerID int64) string {
	return claimKeyPrefix + strconv.FormatInt(buyerID, 10)
}

// Put replaces the buyer's claim. The stored copy outlives ExpiresAt by
// one TTL so Get can still report it as expired rather than missing.
func (s *ClaimStore) Put(ctx context.Context, claim *model.PendingClaim) error {
	data, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("failed to encode claim: %w", err)
	}
	if err := s.store.Set(ctx, claimKey(claim.BuyerID), data, 2*s.ttl); err != nil {
		return fmt.Errorf("failed to store claim: %w", err)
	}
	return nil
}

// Get returns the buyer's claim or ErrClaimNotFound. Expiry is the caller's check.
func (s *ClaimStore) Get(ctx context.Context, buyerID int64) (*model.PendingClaim, error) {
	data, err := s.store.Get(ctx, claimKey(buyerID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load claim: %w", err)
	}

	var claim model.PendingClaim
	if err := json.Unmarshal(data, &claim); err != nil {
		return nil, fmt.Errorf("failed to decode claim: %w", err)
	}
	return &claim, nil
}

func (s *ClaimStore) Delete(ctx context.Context, buyerID int64) error {
	if err := s.store.Delete(ctx, claimKey(buyerID)); err != nil {
		return fmt.Errorf("failed to delete claim: %w", err)
	}
	return nil
}
