package e2e

import (
	"github.com/cucumber/godog"

	"vcr/e2e/steps/common"
	"vcr/e2e/steps/hooks"
	"vcr/e2e/steps/registry"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (service health, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register issuer and credential steps
	registry.RegisterSteps(ctx, tc)

	// Register hook user and subscription steps
	hooks.RegisterSteps(ctx, tc)
}
