// Package store is the per-tenant, per-thread state store: cursors, session
// records, flags, indexes, and caches, addressed by namespaced keys.
//
// Access is plain get/put on a single key-value table — no transactions and
// no optimistic concurrency. Two overlapping runs can race on the same key;
// the polling orchestrator tolerates the resulting re-delivery and narrows
// the window with a lease record rather than a database lock.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/signalpost/signalpost/internal/models"
)

// Store reads and writes namespaced state entries.
type Store struct {
	db *gorm.DB
}

// New creates a Store on an open database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the raw value for k and whether it exists.
func (s *Store) Get(k Key) (string, bool, error) {
	var entry models.StateEntry
	err := s.db.First(&entry, "key = ?", k.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", k, err)
	}
	return entry.Value, true, nil
}

// Put writes the raw value for k, inserting or overwriting.
func (s *Store) Put(k Key, value string) error {
	entry := models.StateEntry{Key: k.String(), Value: value, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("store: put %s: %w", k, err)
	}
	return nil
}

// Delete removes k. Deleting a missing key is not an error.
func (s *Store) Delete(k Key) error {
	if err := s.db.Delete(&models.StateEntry{}, "key = ?", k.String()).Error; err != nil {
		return fmt.Errorf("store: delete %s: %w", k, err)
	}
	return nil
}
