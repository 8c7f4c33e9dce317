// Package enforcement defines the budget alert action vocabulary and turns
// the actions of a triggered alert into a concrete enforcement result.
//
// Alert actions are carried verbatim from budget definitions to callers as
// suggested actions. The Enforcer adds what the gateway can derive locally,
// such as a cheaper model for auto-downgrade.
package enforcement
