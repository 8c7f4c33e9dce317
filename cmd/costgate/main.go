// Costgate is an admission and cost-governance gateway for AI provider traffic.
//
// It decides, before a request is sent to a provider, whether the request may
// proceed, and records what it cost afterwards:
//   - Hierarchical budgets with alerts and enforcement actions
//   - Multi-tier rate limiting with emergency throttling
//   - Per-provider circuit breakers
//   - Durable replay of usage that could not be recorded
//
// Usage:
//
//	# Start the server
//	costgate run --config /etc/costgate/config.yaml
//
//	# Validate a configuration file
//	costgate validate --config config.yaml
//
//	# Inspect a budget on a running server
//	costgate budget status b-1234 --server http://127.0.0.1:8080
//
//	# Check admission from a script
//	costgate admit --provider openai --team platform --cost 0.02
package main

func main() {
	Execute()
}
