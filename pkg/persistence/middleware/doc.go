// Package middleware wraps ports.StateStore implementations with encryption at
// rest and PII masking.
package middleware
