// Package logging provides structured logging utilities for sumeria.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Build the process logger once and pass it down:
//
//	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
//	logger = logging.WithService(logger, "gmail")
//
// Sanitize sensitive data before logging:
//
//	logger.Info("account added", logging.UserHash(account))
//	logger.Debug("refreshed", logging.Token(tok.AccessToken))
//
// # Security Considerations
//
//   - Account identifiers are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging
