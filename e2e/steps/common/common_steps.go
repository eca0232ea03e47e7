package common

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTRaw(path, body string) error
	GET(path string, headers map[string]string) error
	DELETE(path string) error
	StatusCode() int
	ResponseBody() []byte
	GetResponseField(field string) (interface{}, error)
	ResponseContains(field string) bool
	Save(key, value string)
	Saved(key string) string
}

// RegisterSteps registers generic request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	// Background
	ctx.Step(`^the registry is running$`, steps.registryIsRunning)

	// Requests
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^I POST to "([^"]*)" with body:$`, steps.postWithBody)
	ctx.Step(`^I DELETE "([^"]*)"$`, steps.delete)
	ctx.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, steps.saveField)

	// Assertions
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.fieldShouldEqual)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.shouldContain)
	ctx.Step(`^the response should not contain "([^"]*)"$`, steps.shouldNotContain)
	ctx.Step(`^the response should list (\d+) items?$`, steps.shouldListItems)
	ctx.Step(`^the error fields should be "([^"]*)"$`, steps.errorFieldsShouldBe)
}

type commonSteps struct {
	tc TestContext
}

// expand replaces {name} placeholders with values saved earlier in the scenario.
func (s *commonSteps) expand(path string) string {
	for {
		start := strings.Index(path, "{")
		end := strings.Index(path, "}")
		if start < 0 || end < start {
			return path
		}
		path = path[:start] + s.tc.Saved(path[start+1:end]) + path[end+1:]
	}
}

func (s *commonSteps) registryIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/healthz", nil); err != nil {
		return err
	}
	return s.statusShouldBe(ctx, 200)
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(s.expand(path), nil)
}

func (s *commonSteps) postWithBody(ctx context.Context, path string, body *godog.DocString) error {
	return s.tc.POSTRaw(s.expand(path), body.Content)
}

func (s *commonSteps) delete(ctx context.Context, path string) error {
	return s.tc.DELETE(s.expand(path))
}

func (s *commonSteps) saveField(ctx context.Context, field, key string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(key, fmt.Sprint(v))
	return nil
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.StatusCode(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.ResponseBody())
	}
	return nil
}

func (s *commonSteps) fieldShouldEqual(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("expected %s to be %q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) shouldContain(ctx context.Context, field string) error {
	if !s.tc.ResponseContains(field) {
		return fmt.Errorf("expected response to contain %q: %s", field, s.tc.ResponseBody())
	}
	return nil
}

func (s *commonSteps) shouldNotContain(ctx context.Context, field string) error {
	if s.tc.ResponseContains(field) {
		return fmt.Errorf("expected response not to contain %q", field)
	}
	return nil
}

func (s *commonSteps) shouldListItems(ctx context.Context, count int) error {
	var items []json.RawMessage
	if err := json.Unmarshal(s.tc.ResponseBody(), &items); err != nil {
		return fmt.Errorf("response is not a list: %w", err)
	}
	if len(items) != count {
		return fmt.Errorf("expected %d items, got %d", count, len(items))
	}
	return nil
}

func (s *commonSteps) errorFieldsShouldBe(ctx context.Context, expected string) error {
	var body struct {
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(s.tc.ResponseBody(), &body); err != nil {
		return err
	}
	got := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		got = append(got, f.Field)
	}
	if strings.Join(got, ",") != expected {
		return fmt.Errorf("expected error fields %q, got %q", expected, strings.Join(got, ","))
	}
	return nil
}
