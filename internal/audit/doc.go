// Package audit defines the core data model shared across the audit
// engine: findings, decisions, audit results, and file content records.
package audit
