// Package models defines the persisted schema.
package models

import "time"

// StateEntry is one row of the namespaced key-value state store. All
// cross-invocation state (cursors, session records, flags, indexes, caches)
// lives in this table; keys follow the shape
// tenant:<id>:<category>[:<qualifier>]:<field>.
type StateEntry struct {
	Key       string `gorm:"primaryKey;size:256"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}
