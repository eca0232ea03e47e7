package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vcr/internal/hooks/models"
)

type hookStore interface {
	CreateUser(ctx context.Context, user *models.HookUser) error
	GetUserByUsername(ctx context.Context, username string) (*models.HookUser, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, ownerID, id uuid.UUID) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, ownerID uuid.UUID) ([]*models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]*models.Subscription, error)
	DeleteSubscription(ctx context.Context, ownerID, id uuid.UUID) error
}

type ContractSuite struct {
	suite.Suite
	store hookStore
	reset func()
	ctx   context.Context
	now   time.Time
}

func (s *ContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.reset()
}

func (s *ContractSuite) user(name string) *models.HookUser {
	u := &models.HookUser{ID: uuid.New(), Username: name, Email: name + "@example.com", PasswordHash: "hash", CreatedAt: s.now}
	s.Require().NoError(s.store.CreateUser(s.ctx, u))
	return u
}

func (s *ContractSuite) subscription(owner *models.HookUser, active bool, offset time.Duration) *models.Subscription {
	sub := &models.Subscription{
		ID:        uuid.New(),
		OwnerID:   owner.ID,
		Type:      models.SubscriptionStream,
		TargetURL: "https://hooks.example.com/" + owner.Username,
		HookToken: "token",
		Active:    active,
		CreatedAt: s.now.Add(offset),
		UpdatedAt: s.now.Add(offset),
	}
	s.Require().NoError(s.store.CreateSubscription(s.ctx, sub))
	return sub
}

func (s *ContractSuite) TestUsers() {
	u := s.user("alice")

	s.Run("lookup by username", func() {
		got, err := s.store.GetUserByUsername(s.ctx, "alice")
		s.Require().NoError(err)
		s.Equal(u.ID, got.ID)
		s.Equal("hash", got.PasswordHash)
	})

	s.Run("duplicate username conflicts", func() {
		err := s.store.CreateUser(s.ctx, &models.HookUser{ID: uuid.New(), Username: "alice", Email: "x@example.com", PasswordHash: "h", CreatedAt: s.now})
		s.True(errors.Is(err, ErrConflict))
	})

	s.Run("unknown username", func() {
		_, err := s.store.GetUserByUsername(s.ctx, "bob")
		s.True(errors.Is(err, ErrNotFound))
	})
}

func (s *ContractSuite) TestSubscriptions() {
	alice := s.user("alice")
	bob := s.user("bob")
	first := s.subscription(alice, true, 0)
	second := s.subscription(alice, false, time.Second)
	bobs := s.subscription(bob, true, 2*time.Second)

	s.Run("owner listing in creation order", func() {
		subs, err := s.store.ListSubscriptions(s.ctx, alice.ID)
		s.Require().NoError(err)
		s.Require().Len(subs, 2)
		s.Equal(first.ID, subs[0].ID)
		s.Equal(second.ID, subs[1].ID)
		s.Equal("token", subs[0].HookToken)
	})

	s.Run("active listing spans owners", func() {
		subs, err := s.store.ListActiveSubscriptions(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(subs, 2)
		s.Equal(first.ID, subs[0].ID)
		s.Equal(bobs.ID, subs[1].ID)
	})

	s.Run("get is scoped to owner", func() {
		_, err := s.store.GetSubscription(s.ctx, bob.ID, first.ID)
		s.True(errors.Is(err, ErrNotFound))

		got, err := s.store.GetSubscription(s.ctx, alice.ID, first.ID)
		s.Require().NoError(err)
		s.Equal(models.SubscriptionStream, got.Type)
	})

	s.Run("delete is scoped to owner", func() {
		s.True(errors.Is(s.store.DeleteSubscription(s.ctx, bob.ID, first.ID), ErrNotFound))
		s.Require().NoError(s.store.DeleteSubscription(s.ctx, alice.ID, first.ID))
		s.True(errors.Is(s.store.DeleteSubscription(s.ctx, alice.ID, first.ID), ErrNotFound))
	})
}
