package hooks

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	StatusCode() int
	ResponseBody() []byte
	SetBasicAuth(username, password string)
	ClearBasicAuth()
}

// RegisterSteps registers hook user and subscription step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &hookSteps{tc: tc}

	ctx.Step(`^hook user "([^"]*)" exists with password "([^"]*)"$`, steps.userExists)
	ctx.Step(`^I authenticate as "([^"]*)" with password "([^"]*)"$`, steps.authenticate)
	ctx.Step(`^I am not authenticated$`, steps.anonymous)
	ctx.Step(`^"([^"]*)" subscribes to "([^"]*)" events at "([^"]*)"$`, steps.subscribe)
}

type hookSteps struct {
	tc TestContext
}

// userExists registers the user, accepting an earlier registration with the
// same username so scenarios can rerun against a long-lived server.
func (s *hookSteps) userExists(ctx context.Context, username, password string) error {
	s.tc.ClearBasicAuth()
	body := map[string]interface{}{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}
	if err := s.tc.POST("/hooks/register", body); err != nil {
		return err
	}
	switch s.tc.StatusCode() {
	case 201, 409:
		return nil
	default:
		return fmt.Errorf("register %s: status %d: %s", username, s.tc.StatusCode(), s.tc.ResponseBody())
	}
}

func (s *hookSteps) authenticate(ctx context.Context, username, password string) error {
	s.tc.SetBasicAuth(username, password)
	return nil
}

func (s *hookSteps) anonymous(ctx context.Context) error {
	s.tc.ClearBasicAuth()
	return nil
}

func (s *hookSteps) subscribe(ctx context.Context, username, subscriptionType, targetURL string) error {
	body := map[string]interface{}{
		"subscription_type": subscriptionType,
		"target_url":        targetURL,
	}
	return s.tc.POST("/hooks/"+username+"/subscriptions", body)
}
