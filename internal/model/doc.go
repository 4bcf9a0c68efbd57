// Package model defines the core data structures for image collection:
// canonical image metadata, crawl tasks with their lifecycle state machine,
// per-task collected image associations, and filter criteria.
package model
