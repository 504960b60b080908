package e2e

import (
	"github.com/cucumber/godog"

	"signals/e2e/steps/common"
	"signals/e2e/steps/sessions"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	sessions.RegisterSteps(ctx, tc)
}
