// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// COST MODEL
// =============================================================================

// DefaultCostUnit is the number of input bytes (or tokens, in token sizing
// mode) that map to one credit before the language factor is applied.
const DefaultCostUnit = 4096

// DefaultMaxScanCost is the fallback per-request cost ceiling when an account
// has no plan tier configured.
const DefaultMaxScanCost = 50

// =============================================================================
// SESSIONS
// =============================================================================

// DefaultSessionTTL is how long a session may live before the sweep evicts it.
const DefaultSessionTTL = 1 * time.Hour

// DefaultSweepInterval is the frequency of the background session sweep.
const DefaultSweepInterval = 1 * time.Hour

// DefaultCompletedGrace is how long a terminal session stays queryable before
// it becomes eligible for eviction.
const DefaultCompletedGrace = 10 * time.Minute

// DefaultMaxSessionLifetime bounds a single relay so a stalled upstream cannot
// hold a reservation forever.
const DefaultMaxSessionLifetime = 30 * time.Minute

// =============================================================================
// STREAMING
// =============================================================================

// DefaultHeartbeatInterval is how often the relay emits a keepalive comment
// frame while waiting on the upstream.
const DefaultHeartbeatInterval = 10 * time.Second

// DefaultBufferSize is the standard I/O buffer size for stream reads.
const DefaultBufferSize = 4096

// MaxRequestBodySize is the maximum allowed analyze request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 1 * time.Minute

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultHealthTimeout bounds the upstream health probe.
const DefaultHealthTimeout = 10 * time.Second

// DefaultConnectTimeout bounds the upstream connect/first-response wait when
// opening an analysis stream. The stream body itself is unbounded; heartbeats
// keep the caller connection alive instead.
const DefaultConnectTimeout = 30 * time.Second

// =============================================================================
// LEDGER
// =============================================================================

// SettleRetryAttempts is how many times a failed commit/refund write is
// retried before being surfaced as a ledger inconsistency.
const SettleRetryAttempts = 3

// SettleRetryBackoff is the base backoff between settle retries.
const SettleRetryBackoff = 200 * time.Millisecond
