package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"vcr/internal/hooks/models"
	"vcr/internal/platform/database"
	"vcr/pkg/platform/tx"
)

// Postgres stores hook users and subscriptions in the hook_users and
// subscriptions tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	userColumns         = "id, username, email, password_hash, created_at"
	subscriptionColumns = "id, owner_id, subscription_type, topic_source_id, credential_type, target_url, hook_token, active, created_at, updated_at"
)

func (s *Postgres) exec(ctx context.Context) tx.Executor {
	return tx.ExecutorFrom(ctx, s.db)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Postgres) CreateUser(ctx context.Context, user *models.HookUser) error {
	query, args, err := psql.Insert("hook_users").
		Columns("id", "username", "email", "password_hash", "created_at").
		Values(user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("hook user %s: %w", user.Username, ErrConflict)
		}
		return fmt.Errorf("insert hook user: %w", err)
	}
	return nil
}

func (s *Postgres) GetUserByUsername(ctx context.Context, username string) (*models.HookUser, error) {
	query, args, err := psql.Select(userColumns).From("hook_users").Where(sq.Eq{"username": username}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var u models.HookUser
	err = s.exec(ctx).QueryRowContext(ctx, query, args...).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hook user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load hook user: %w", err)
	}
	return &u, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var subType string
	err := row.Scan(&sub.ID, &sub.OwnerID, &subType, &sub.TopicSourceID, &sub.CredentialType,
		&sub.TargetURL, &sub.HookToken, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Type = models.SubscriptionType(subType)
	return &sub, nil
}

func (s *Postgres) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	query, args, err := psql.Insert("subscriptions").
		Columns("id", "owner_id", "subscription_type", "topic_source_id", "credential_type",
			"target_url", "hook_token", "active", "created_at", "updated_at").
		Values(sub.ID, sub.OwnerID, string(sub.Type), sub.TopicSourceID, sub.CredentialType,
			sub.TargetURL, sub.HookToken, sub.Active, sub.CreatedAt, sub.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *Postgres) GetSubscription(ctx context.Context, ownerID, id uuid.UUID) (*models.Subscription, error) {
	query, args, err := psql.Select(subscriptionColumns).From("subscriptions").
		Where(sq.Eq{"id": id, "owner_id": ownerID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	sub, err := scanSubscription(s.exec(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return sub, nil
}

func (s *Postgres) ListSubscriptions(ctx context.Context, ownerID uuid.UUID) ([]*models.Subscription, error) {
	return s.list(ctx, sq.Eq{"owner_id": ownerID})
}

func (s *Postgres) ListActiveSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	return s.list(ctx, sq.Eq{"active": true})
}

func (s *Postgres) list(ctx context.Context, where sq.Eq) ([]*models.Subscription, error) {
	query, args, err := psql.Select(subscriptionColumns).From("subscriptions").
		Where(where).OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Postgres) DeleteSubscription(ctx context.Context, ownerID, id uuid.UUID) error {
	query, args, err := psql.Delete("subscriptions").Where(sq.Eq{"id": id, "owner_id": ownerID}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	res, err := s.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return nil
}
