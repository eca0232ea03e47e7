package registry

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
}

// RegisterSteps registers issuer and credential step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrySteps{tc: tc}

	ctx.Step(`^issuer "([^"]*)" registers schema "([^"]*)" version "([^"]*)"$`, steps.registerSchema)
	ctx.Step(`^issuer "([^"]*)" issues credential "([^"]*)" of schema "([^"]*)" version "([^"]*)" for "([^"]*)" effective "([^"]*)"$`, steps.issueCredential)
}

type registrySteps struct {
	tc TestContext
}

func (s *registrySteps) registerSchema(ctx context.Context, did, schema, version string) error {
	body := map[string]interface{}{
		"issuer": map[string]interface{}{
			"did":  did,
			"name": "E2E Issuer",
		},
		"credential_types": []interface{}{
			map[string]interface{}{
				"schema":  schema,
				"version": version,
				"topic": map[string]interface{}{
					"type":      schema,
					"source_id": map[string]interface{}{"path": "$.registration_id"},
				},
				"credential": map[string]interface{}{
					"effective_date": map[string]interface{}{"name": "effective_date", "path": "$.effective_date"},
				},
				"mappings": []interface{}{
					map[string]interface{}{"name": "name", "path": "$.entity_name"},
				},
			},
		},
	}
	if err := s.tc.POST("/agentcb/topic/issuer_registration", body); err != nil {
		return err
	}
	return s.expectOK()
}

func (s *registrySteps) issueCredential(ctx context.Context, did, credentialID, schema, version, sourceID, effective string) error {
	body := map[string]interface{}{
		"schema":        schema,
		"version":       version,
		"origin_did":    did,
		"credential_id": credentialID,
		"raw_data": map[string]interface{}{
			"registration_id": sourceID,
			"entity_name":     "E2E " + sourceID,
			"effective_date":  effective,
		},
	}
	if err := s.tc.POST("/agentcb/topic/credential", body); err != nil {
		return err
	}
	return s.expectOK()
}

func (s *registrySteps) expectOK() error {
	if s.tc.StatusCode() != 200 {
		return fmt.Errorf("expected status 200, got %d: %s", s.tc.StatusCode(), s.tc.ResponseBody())
	}
	return nil
}
