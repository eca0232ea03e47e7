// Package service manages hook users and subscriptions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"vcr/internal/hooks/models"
	"vcr/internal/hooks/secrets"
	"vcr/internal/hooks/stats"
	"vcr/internal/hooks/store"
	dErrors "vcr/pkg/domain-errors"
	"vcr/pkg/requestcontext"
)

// Store persists hook users and subscriptions.
type Store interface {
	CreateUser(ctx context.Context, user *models.HookUser) error
	GetUserByUsername(ctx context.Context, username string) (*models.HookUser, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, ownerID, id uuid.UUID) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, ownerID uuid.UUID) ([]*models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]*models.Subscription, error)
	DeleteSubscription(ctx context.Context, ownerID, id uuid.UUID) error
}

type Service struct {
	store  Store
	stats  stats.Recorder
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(st Store, recorder stats.Recorder, opts ...Option) *Service {
	s := &Service{
		store:  st,
		stats:  recorder,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) RegisterUser(ctx context.Context, req *models.RegisterUserRequest) (*models.HookUser, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := secrets.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.HookUser{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    requestcontext.Now(ctx).UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "username is already taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create hook user")
	}
	s.logger.InfoContext(ctx, "hook user registered",
		"request_id", requestcontext.RequestID(ctx),
		"username", user.Username,
	)
	return user, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords fail the same way.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.HookUser, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load hook user")
	}
	if err := secrets.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) owner(ctx context.Context, username string) (*models.HookUser, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "hook user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load hook user")
	}
	return user, nil
}

func (s *Service) CreateSubscription(ctx context.Context, username string, req *models.CreateSubscriptionRequest) (*models.SubscriptionCreated, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	user, err := s.owner(ctx, username)
	if err != nil {
		return nil, err
	}
	hookToken := req.HookToken
	if hookToken == "" {
		if hookToken, err = secrets.GenerateToken(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate hook token")
		}
	}
	now := requestcontext.Now(ctx).UTC()
	subType, _ := models.ParseSubscriptionType(req.SubscriptionType)
	sub := &models.Subscription{
		ID:             uuid.New(),
		OwnerID:        user.ID,
		Type:           subType,
		TopicSourceID:  req.TopicSourceID,
		CredentialType: req.CredentialType,
		TargetURL:      req.TargetURL,
		HookToken:      hookToken,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create subscription")
	}
	s.logger.InfoContext(ctx, "subscription created",
		"request_id", requestcontext.RequestID(ctx),
		"username", username,
		"subscription_id", sub.ID,
		"subscription_type", string(sub.Type),
	)
	return &models.SubscriptionCreated{Subscription: sub, HookToken: hookToken}, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, username string) ([]*models.Subscription, error) {
	user, err := s.owner(ctx, username)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListSubscriptions(ctx, user.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subscriptions")
	}
	return subs, nil
}

func (s *Service) GetSubscription(ctx context.Context, username string, id uuid.UUID) (*models.Subscription, error) {
	user, err := s.owner(ctx, username)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubscription(ctx, user.ID, id)
	if err != nil {
		return nil, subscriptionError(err, id)
	}
	return sub, nil
}

func (s *Service) DeleteSubscription(ctx context.Context, username string, id uuid.UUID) error {
	user, err := s.owner(ctx, username)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSubscription(ctx, user.ID, id); err != nil {
		return subscriptionError(err, id)
	}
	s.logger.InfoContext(ctx, "subscription deleted",
		"request_id", requestcontext.RequestID(ctx),
		"username", username,
		"subscription_id", id,
	)
	return nil
}

// ActiveSubscriptions lists every subscription eligible for delivery.
func (s *Service) ActiveSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	subs, err := s.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list active subscriptions")
	}
	return subs, nil
}

// Stats returns the delivery counters of every worker.
func (s *Service) Stats(ctx context.Context) ([]*models.CredentialHookStats, error) {
	all, err := s.stats.All(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read hook stats")
	}
	return all, nil
}

func subscriptionError(err error, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("subscription %s not found", id))
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subscription")
}
