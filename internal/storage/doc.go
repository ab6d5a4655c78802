// Package storage persists posts, delivery records, follower snapshots and
// the deferred task queue.
//
// Posts live in per-platform tables; the lookup is a static map keyed by
// platform. Delivery records have a unique key so a duplicate claim is a
// no-op at the store layer.
package storage
