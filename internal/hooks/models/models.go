// Package models holds hook users, their subscriptions and the delivery
// statistics kept per worker.
package models

import (
	"time"

	"github.com/google/uuid"

	regmodels "vcr/internal/registry/models"
)

// HookUser owns subscriptions. Passwords are stored as bcrypt hashes only.
type HookUser struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionType selects which credential events a subscription receives.
type SubscriptionType string

const (
	// SubscriptionNew receives credentials that created a new topic.
	SubscriptionNew SubscriptionType = "New"
	// SubscriptionStream receives every credential event.
	SubscriptionStream SubscriptionType = "Stream"
	// SubscriptionTopic receives credentials of one topic.
	SubscriptionTopic SubscriptionType = "Topic"
)

func ParseSubscriptionType(s string) (SubscriptionType, bool) {
	switch t := SubscriptionType(s); t {
	case SubscriptionNew, SubscriptionStream, SubscriptionTopic:
		return t, true
	}
	return "", false
}

// Subscription is a delivery target for credential events. HookToken signs
// the bearer token sent with each delivery and is never serialized.
type Subscription struct {
	ID             uuid.UUID        `json:"id"`
	OwnerID        uuid.UUID        `json:"owner_id"`
	Type           SubscriptionType `json:"subscription_type"`
	TopicSourceID  string           `json:"topic_source_id,omitempty"`
	CredentialType string           `json:"credential_type,omitempty"`
	TargetURL      string           `json:"target_url"`
	HookToken      string           `json:"-"`
	Active         bool             `json:"active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Matches reports whether ev should be delivered to s. CredentialType, when
// set, narrows any subscription type to one schema name.
func (s *Subscription) Matches(ev *regmodels.CredentialEvent) bool {
	if !s.Active {
		return false
	}
	if s.CredentialType != "" && s.CredentialType != ev.Schema {
		return false
	}
	switch s.Type {
	case SubscriptionNew:
		return ev.TopicCreated
	case SubscriptionStream:
		return true
	case SubscriptionTopic:
		return s.TopicSourceID == ev.TopicSourceID
	default:
		return false
	}
}

// Delivery is the body POSTed to a subscription target.
type Delivery struct {
	EventID        string                     `json:"event_id"`
	EventType      string                     `json:"event_type"`
	SubscriptionID uuid.UUID                  `json:"subscription_id"`
	OccurredAt     time.Time                  `json:"occurred_at"`
	Credential     *regmodels.CredentialEvent `json:"credential"`
}

// Stat names one CredentialHookStats counter.
type Stat string

const (
	StatTotal     Stat = "total"
	StatAttempt   Stat = "attempt"
	StatSuccess   Stat = "success"
	StatFail      Stat = "fail"
	StatRetry     Stat = "retry"
	StatRetryFail Stat = "retry_fail"
)

// AllStats lists the counters in display order.
var AllStats = []Stat{StatTotal, StatAttempt, StatSuccess, StatFail, StatRetry, StatRetryFail}

// CredentialHookStats are monotonic delivery counters for one worker.
type CredentialHookStats struct {
	WorkerID  string `json:"worker_id"`
	Total     int64  `json:"total"`
	Attempt   int64  `json:"attempt"`
	Success   int64  `json:"success"`
	Fail      int64  `json:"fail"`
	Retry     int64  `json:"retry"`
	RetryFail int64  `json:"retry_fail"`
}

// Set assigns the counter named by stat.
func (c *CredentialHookStats) Set(stat Stat, v int64) {
	switch stat {
	case StatTotal:
		c.Total = v
	case StatAttempt:
		c.Attempt = v
	case StatSuccess:
		c.Success = v
	case StatFail:
		c.Fail = v
	case StatRetry:
		c.Retry = v
	case StatRetryFail:
		c.RetryFail = v
	}
}
