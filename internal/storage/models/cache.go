package models

import "time"

// Cache keys for the manager formation calendar.
const (
	CacheKeyFormations    = "cached_manager_formations"
	CacheKeyTimestamp     = "cached_manager_formations_timestamp"
	CacheKeyHash          = "cached_manager_formations_hash"
	CacheKeySchemaVersion = "cached_manager_formations_schema_version"
)

// CacheSchemaVersion is bumped whenever the encoding of CacheKeyFormations
// changes. Entries written with another version are treated as a miss.
const CacheSchemaVersion = 1

// CacheKeys lists every key written by one cache update.
var CacheKeys = []string{
	CacheKeyFormations,
	CacheKeyTimestamp,
	CacheKeyHash,
	CacheKeySchemaVersion,
}

// CacheEntry is the decoded view of the persisted formation cache.
type CacheEntry struct {
	Formations    []CalendarEvent `json:"formations"`
	Timestamp     time.Time       `json:"timestamp"`
	Hash          string          `json:"hash"`
	SchemaVersion int             `json:"schema_version"`
}

// Age returns how old the entry is at now.
func (c CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(c.Timestamp)
}

// KeyValue is a raw row of the durable key-value store.
type KeyValue struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
