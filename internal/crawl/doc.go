// Package crawl implements the crawl task manager: task creation and
// lifecycle control, and the background runners that walk source adapters,
// filter and deduplicate the yielded records, and persist progress.
package crawl
