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

const conversationKeyPrefix = "conv:"

// ConversationStore holds at most one active conversation per user.
// A conversation idle for longer than the TTL reads as absent.
type ConversationStore struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewConversationStore(store cache.Store, ttl time.Duration) *ConversationStore {
	return &ConversationStore{store: store, ttl: ttl, now: time.Now}
}

func conversationKey(userID int64) string {
	return conversationKeyPrefix + strconv.FormatInt(userID, 10)
}

// Get returns the active conversation, or nil if there is none.
func (s *ConversationStore) Get(ctx context.Context, userID int64) (*model.Conversation, error) {
	data, err := s.store.Get(ctx, conversationKey(userID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	if s.ttl > 0 && !s.now().Before(conv.UpdatedAt.Add(s.ttl)) {
		return nil, nil
	}
	return &conv, nil
}

// Save stores conv as the user's only conversation, replacing any other flow.
func (s *ConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	conv.UpdatedAt = s.now()
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	if err := s.store.Set(ctx, conversationKey(conv.UserID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

// Clear ends the user's conversation, whatever its step.
func (s *ConversationStore) Clear(ctx context.Context, userID int64) error {
	if err := s.store.Delete(ctx, conversationKey(userID)); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}
