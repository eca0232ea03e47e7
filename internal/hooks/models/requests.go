package models

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	dErrors "vcr/pkg/domain-errors"
)

const minPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)

// RegisterUserRequest creates a hook user.
type RegisterUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *RegisterUserRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
}

func (r *RegisterUserRequest) Validate() error {
	var fields []dErrors.FieldError
	if !usernamePattern.MatchString(r.Username) {
		fields = append(fields, dErrors.FieldError{Field: "username", Message: "must be 3-64 letters, digits, '.', '_' or '-'"})
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		fields = append(fields, dErrors.FieldError{Field: "email", Message: "must be an email address"})
	}
	if len(r.Password) < minPasswordLength {
		fields = append(fields, dErrors.FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	if len(fields) > 0 {
		return dErrors.WithFields(dErrors.CodeValidation, "invalid hook user", fields)
	}
	return nil
}

// CreateSubscriptionRequest adds a delivery target for the calling user. An
// empty HookToken is generated by the service.
type CreateSubscriptionRequest struct {
	SubscriptionType string `json:"subscription_type"`
	TopicSourceID    string `json:"topic_source_id"`
	CredentialType   string `json:"credential_type"`
	TargetURL        string `json:"target_url"`
	HookToken        string `json:"hook_token"`
}

func (r *CreateSubscriptionRequest) Normalize() {
	r.SubscriptionType = strings.TrimSpace(r.SubscriptionType)
	r.TopicSourceID = strings.TrimSpace(r.TopicSourceID)
	r.CredentialType = strings.TrimSpace(r.CredentialType)
	r.TargetURL = strings.TrimSpace(r.TargetURL)
}

func (r *CreateSubscriptionRequest) Validate() error {
	var fields []dErrors.FieldError
	subType, ok := ParseSubscriptionType(r.SubscriptionType)
	if !ok {
		fields = append(fields, dErrors.FieldError{Field: "subscription_type", Message: "must be one of New, Stream, Topic"})
	}
	if subType == SubscriptionTopic && r.TopicSourceID == "" {
		fields = append(fields, dErrors.FieldError{Field: "topic_source_id", Message: "is required for Topic subscriptions"})
	}
	if u, err := url.ParseRequestURI(r.TargetURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fields = append(fields, dErrors.FieldError{Field: "target_url", Message: "must be an absolute http(s) URL"})
	}
	if len(fields) > 0 {
		return dErrors.WithFields(dErrors.CodeValidation, "invalid subscription", fields)
	}
	return nil
}

// SubscriptionCreated is the only response that reveals the hook token.
type SubscriptionCreated struct {
	*Subscription
	HookToken string `json:"hook_token"`
}
