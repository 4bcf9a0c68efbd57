// Package source implements adapters that bridge external image board APIs
// to the canonical ImageRecord shape. Each adapter encapsulates its
// upstream's authentication, query construction, and pagination, and owns a
// rate limiter configured conservatively below the upstream's published
// limits.
//
// Danbooru-style sources share a low-level booru client parameterized by
// base URL and a per-source parse strategy; Pixiv carries its own OAuth
// token handling.
package source
