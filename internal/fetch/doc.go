// Package fetch executes single logical HTTP requests with rate limiting
// and classification-driven retry. A 429 response backs off exponentially,
// any other failure backs off linearly, and successes return the response
// body. There is no circuit breaking across calls.
package fetch
