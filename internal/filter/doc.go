// Package filter applies post-fetch content criteria to image records.
// Filters are pure, order-preserving, and tolerant of unknown values:
// a record whose field has not been populated is never dropped, since
// enrichment may happen later.
package filter
