// Package ratelimit provides per-adapter request pacing and a concurrency
// ceiling. Each source adapter owns one Limiter instance; there is no
// cross-instance or global fairness.
package ratelimit
