// Package store provides the SQLite-backed local cache of wizard state.
//
// The cache holds:
//   - Sessions: one row per saved session, deduplicated by client email
//     first and session id second
//   - Assignments: questionnaire assignments with their responses
//   - Credential summary: the single record the login helper reads
//   - Accounts: portal accounts, used when the store backs the server
//   - Counters: named monotonic counters (seq, form case numbers)
//
// Writes are read-modify-write inside one transaction, so repeated saves
// of the same session replace the row in place instead of appending.
//
// # Ordering
//
// Every write takes the next value of the "seq" counter. Reads order by
// seq ASC, then id COLLATE BINARY, so results are identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Session secrets never reach this package: payloads are written from
// domain.Session.Sanitized.
package store
