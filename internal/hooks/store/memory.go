package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"vcr/internal/hooks/models"
)

// InMemory keeps hook users and subscriptions in maps.
type InMemory struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*models.HookUser
	usersByName   map[string]uuid.UUID
	subscriptions map[uuid.UUID]*models.Subscription
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:         make(map[uuid.UUID]*models.HookUser),
		usersByName:   make(map[string]uuid.UUID),
		subscriptions: make(map[uuid.UUID]*models.Subscription),
	}
}

func (s *InMemory) CreateUser(_ context.Context, user *models.HookUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByName[user.Username]; ok {
		return fmt.Errorf("hook user %s: %w", user.Username, ErrConflict)
	}
	u := *user
	s.users[u.ID] = &u
	s.usersByName[u.Username] = u.ID
	return nil
}

func (s *InMemory) GetUserByUsername(_ context.Context, username string) (*models.HookUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, fmt.Errorf("hook user %s: %w", username, ErrNotFound)
	}
	u := *s.users[id]
	return &u, nil
}

func (s *InMemory) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[sub.OwnerID]; !ok {
		return fmt.Errorf("hook user %s: %w", sub.OwnerID, ErrNotFound)
	}
	v := *sub
	s.subscriptions[v.ID] = &v
	return nil
}

func (s *InMemory) GetSubscription(_ context.Context, ownerID, id uuid.UUID) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok || sub.OwnerID != ownerID {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	v := *sub
	return &v, nil
}

func (s *InMemory) ListSubscriptions(_ context.Context, ownerID uuid.UUID) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(sub *models.Subscription) bool { return sub.OwnerID == ownerID }), nil
}

func (s *InMemory) ListActiveSubscriptions(_ context.Context) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(sub *models.Subscription) bool { return sub.Active }), nil
}

func (s *InMemory) DeleteSubscription(_ context.Context, ownerID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok || sub.OwnerID != ownerID {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	delete(s.subscriptions, id)
	return nil
}

// collect returns copies ordered by creation time. Callers hold mu.
func (s *InMemory) collect(keep func(*models.Subscription) bool) []*models.Subscription {
	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if keep(sub) {
			v := *sub
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
