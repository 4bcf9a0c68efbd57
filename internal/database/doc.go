// Package database provides SQLite-based storage for crawl tasks.
//
// This package implements the TaskDB, which stores:
//   - Crawl task rows with lifecycle state and progress counters
//   - Collected images, deduplicated per task by source URL hash
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of other
// databases because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. Sufficient performance for our use case
// 4. WAL mode lets the CLI read while a crawl runner writes
package database
