package enforcement

import "fmt"

// Action is an alert action attached to a budget threshold.
type Action string

const (
	// ActionNotify sends a notification to the alert's targets.
	ActionNotify Action = "notify"

	// ActionAutoDowngrade suggests routing to a cheaper model.
	ActionAutoDowngrade Action = "auto-downgrade"

	// ActionRequireApproval suggests holding the request for a human decision.
	ActionRequireApproval Action = "require-approval"

	// ActionBlockAll denies every request against the budget regardless of headroom.
	ActionBlockAll Action = "block-all"
)

// knownActions lists every accepted action with its severity.
var knownActions = map[Action]int{
	ActionNotify:          1,
	ActionAutoDowngrade:   2,
	ActionRequireApproval: 3,
	ActionBlockAll:        4,
}

// Config contains configuration for the enforcer.
type Config struct {
	// ModelDowngrades maps expensive models to cheaper alternatives.
	// Example: "gpt-4" -> "gpt-4o-mini"
	ModelDowngrades map[string]string
}

// Result is the outcome of enforcing a triggered alert's actions.
type Result struct {
	// Blocked is true when the actions forbid the request outright.
	Blocked bool

	// Action is the most severe action present.
	Action Action

	// SuggestedActions are the alert's actions, verbatim.
	SuggestedActions []string

	// DowngradedModel is the cheaper model to use when auto-downgrade applies
	// and a mapping exists for the requested model.
	DowngradedModel string

	// RequiresApproval is true when require-approval is among the actions.
	RequiresApproval bool
}

// Validate returns an error for an unknown action name.
func Validate(action string) error {
	if _, ok := knownActions[Action(action)]; !ok {
		return fmt.Errorf("unknown alert action %q", action)
	}
	return nil
}

// Severity orders actions; unknown actions rank 0.
func Severity(action Action) int {
	return knownActions[action]
}

// Contains reports whether actions includes a.
func Contains(actions []string, a Action) bool {
	for _, s := range actions {
		if Action(s) == a {
			return true
		}
	}
	return false
}
