package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"acctshop-api/internal/model"

	"github.com/google/uuid"
)

// TwoStepMarker is the code value that signals the account has a cloud
// password and the password step is mandatory.
const TwoStepMarker = "2fa"

// LocalGateway keeps an in-process registry of authorized identities.
// It is used when no remote authorization service is configured.
type LocalGateway struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewLocalGateway() *LocalGateway {
	return &LocalGateway{sessions: make(map[string]string)}
}

func (g *LocalGateway) Authorize(ctx context.Context, identity, oneTimeCode, secret string) (string, error) {
	identity = strings.TrimSpace(identity)
	switch {
	case identity == "":
		return "", &AuthError{Identity: identity, Cause: errors.New("phone number is empty")}
	case strings.TrimSpace(oneTimeCode) == "":
		return "", &AuthError{Identity: identity, Cause: errors.New("confirmation code is empty")}
	case strings.EqualFold(oneTimeCode, TwoStepMarker) && secret == "":
		return "", &AuthError{Identity: identity, Cause: errors.New("two-step password required")}
	}

	token := uuid.NewString()

	g.mu.Lock()
	g.sessions[identity] = token
	g.mu.Unlock()
	return token, nil
}

func (g *LocalGateway) IssueOneTimeCode(ctx context.Context, identity string) (string, error) {
	g.mu.RLock()
	_, ok := g.sessions[identity]
	g.mu.RUnlock()
	if !ok {
		return "", ErrCodeNotAvailable
	}

	n, err := rand.Int(rand.Reader, big.NewInt(90000))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%05d", n.Int64()+10000), nil
}

// Seed registers sessions for stocked items so codes survive a restart.
func (g *LocalGateway) Seed(items []model.InventoryItem) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, it := range items {
		g.sessions[it.Identity] = it.SessionToken
	}
	return len(items)
}

// Forget drops a tracked session.
func (g *LocalGateway) Forget(identity string) {
	g.mu.Lock()
	delete(g.sessions, identity)
	g.mu.Unlock()
}

var _ Gateway = (*LocalGateway)(nil)
