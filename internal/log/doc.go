// Package log provides slog handlers that redact source credentials
// (API keys, OAuth tokens, session cookies) from log output. Crawl
// diagnostics routinely log request parameters, and those must never leak
// the per-source secrets loaded from the credentials file.
package log
