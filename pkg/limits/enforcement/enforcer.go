package enforcement

import "sync"

// Enforcer interprets the actions of a triggered budget alert.
// It is safe for concurrent use.
type Enforcer struct {
	mu     sync.RWMutex
	config Config
}

// NewEnforcer creates a new enforcer.
//
// Example:
//
//	enforcer := NewEnforcer(Config{
//	    ModelDowngrades: map[string]string{
//	        "gpt-4":         "gpt-4o-mini",
//	        "claude-3-opus": "claude-3-sonnet",
//	    },
//	})
func NewEnforcer(config Config) *Enforcer {
	if config.ModelDowngrades == nil {
		config.ModelDowngrades = make(map[string]string)
	}

	return &Enforcer{
		config: config,
	}
}

// Enforce evaluates the actions of the highest triggered alert for a request
// targeting model. A nil or empty action list yields a non-blocking result.
func (e *Enforcer) Enforce(actions []string, model string) *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		SuggestedActions: append([]string(nil), actions...),
	}

	for _, a := range actions {
		action := Action(a)
		if Severity(action) > Severity(result.Action) {
			result.Action = action
		}
		switch action {
		case ActionBlockAll:
			result.Blocked = true
		case ActionRequireApproval:
			result.RequiresApproval = true
		case ActionAutoDowngrade:
			if downgraded, ok := e.config.ModelDowngrades[model]; ok {
				result.DowngradedModel = downgraded
			}
		}
	}

	return result
}

// SetModelDowngrades replaces the downgrade mapping.
func (e *Enforcer) SetModelDowngrades(m map[string]string) {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	e.mu.Lock()
	e.config.ModelDowngrades = cp
	e.mu.Unlock()
}

// GetConfig returns the current enforcer configuration.
func (e *Enforcer) GetConfig() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}
