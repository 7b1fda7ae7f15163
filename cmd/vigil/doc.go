// Vigil is a scheduled, budget-aware CLI for auditing codebases with LLM
// providers.
//
// Each weekday gets a focus area (security, performance, hygiene, ...), files
// matching the focus are gathered and submitted as a batch job, and results
// are retrieved later as markdown reports with stable finding IDs so that
// dismissed findings stay dismissed.
//
// Usage:
//
//	vigil submit                  # submit today's audit as a batch job
//	vigil retrieve                # collect finished batch results
//	vigil run --focus security    # run a synchronous audit now
//	vigil decide <id> -a dismiss -r "false positive"
//	vigil estimate                # preview cost, no API keys needed
//	vigil costs                   # spend summary from the cost ledger
package main
