// Package cache stores embedding vectors keyed by normalized text and model.
//
// Entries are tenant-agnostic and expire passively after their TTL. Two tiers
// are provided: an in-process expirable LRU and a durable BadgerDB tier, which
// Tiered combines so that a durable hit warms the memory tier.
package cache
