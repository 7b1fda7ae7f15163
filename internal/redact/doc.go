// Package redact removes secrets from gathered file content before it
// is submitted to any remote judge.
//
// Detection uses regex heuristics covering common secret shapes: API
// keys, JWTs, private keys, AWS access key IDs and secret access keys,
// bearer tokens, and provider-specific tokens (Anthropic, OpenAI,
// Google, GitHub, Slack).
//
// Files whose paths match a configured redact_paths glob have their
// entire content withheld rather than being scanned.
package redact
