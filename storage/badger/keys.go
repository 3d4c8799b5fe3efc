package badger

import "strings"

// Key prefixes for raw keys. badgerhold namespaces its own keys by type name,
// so these never collide with typed records.
const (
	embeddingCachePrefix = "embcache"
	jobSeqName           = "jobseq"
)

// makeCacheKey generates a key for a cached embedding.
// Format: prefix:key
func makeCacheKey(key string) []byte {
	return []byte(embeddingCachePrefix + ":" + key)
}

// makeRecordKey generates the badgerhold key for a vector record.
// Record IDs are only unique within a collection, so the collection is part of the key.
// Format: collection/recordID
func makeRecordKey(collection, recordID string) string {
	var sb strings.Builder
	sb.Grow(len(collection) + 1 + len(recordID))
	sb.WriteString(collection)
	sb.WriteByte('/')
	sb.WriteString(recordID)
	return sb.String()
}
