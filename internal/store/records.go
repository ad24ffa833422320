package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/signalpost/signalpost/internal/models"
)

// ErrSessionExists is returned when creating a session for a thread that
// already has one. Each thread maps to at most one active session.
var ErrSessionExists = errors.New("store: thread already has an active session")

// TenantSettings holds a tenant's defaults for new sessions.
type TenantSettings struct {
	DefaultSource    string `json:"default_source,omitempty"`
	DefaultBranch    string `json:"default_branch,omitempty"`
	Automation       string `json:"automation,omitempty"`
	ApprovalRequired bool   `json:"approval_required"`
}

// SessionRecord is the locally tracked state of one remote session.
type SessionRecord struct {
	RemoteID         string    `json:"remote_id"`
	SourceRef        string    `json:"source_ref"`
	BaseBranch       string    `json:"base_branch,omitempty"`
	Automation       string    `json:"automation,omitempty"`
	ApprovalRequired bool      `json:"approval_required"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func threadQualifier(threadID int64) string {
	return strconv.FormatInt(threadID, 10)
}

// --- credential ---

// Credential returns the tenant's remote API key, if configured.
func (s *Store) Credential(tenantID string) (string, bool, error) {
	k, err := NewKey(tenantID, CategoryCredential, "api_key")
	if err != nil {
		return "", false, err
	}
	return s.Get(k)
}

// SetCredential stores the tenant's remote API key.
func (s *Store) SetCredential(tenantID, apiKey string) error {
	k, err := NewKey(tenantID, CategoryCredential, "api_key")
	if err != nil {
		return err
	}
	return s.Put(k, apiKey)
}

// --- settings ---

// Settings returns the tenant's defaults; a tenant with no stored settings
// gets the zero value.
func (s *Store) Settings(tenantID string) (TenantSettings, error) {
	var settings TenantSettings
	k, err := NewKey(tenantID, CategorySettings, "prefs")
	if err != nil {
		return settings, err
	}
	raw, ok, err := s.Get(k)
	if err != nil || !ok {
		return settings, err
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return settings, fmt.Errorf("store: decode settings for tenant %s: %w", tenantID, err)
	}
	return settings, nil
}

// SetSettings stores the tenant's defaults.
func (s *Store) SetSettings(tenantID string, settings TenantSettings) error {
	k, err := NewKey(tenantID, CategorySettings, "prefs")
	if err != nil {
		return err
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	return s.Put(k, string(data))
}

// --- sessions ---

func (s *Store) sessionKey(tenantID string, threadID int64) (Key, error) {
	k, err := NewKey(tenantID, CategorySession, "record")
	if err != nil {
		return Key{}, err
	}
	return k.WithQualifier(threadQualifier(threadID))
}

// Session returns the session record for a thread, if one exists.
func (s *Store) Session(tenantID string, threadID int64) (*SessionRecord, bool, error) {
	k, err := s.sessionKey(tenantID, threadID)
	if err != nil {
		return nil, false, err
	}
	raw, ok, err := s.Get(k)
	if err != nil || !ok {
		return nil, false, err
	}
	var rec SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("store: decode session for thread %d: %w", threadID, err)
	}
	return &rec, true, nil
}

// CreateSession stores a new session record and indexes its thread.
// Returns ErrSessionExists if the thread already has one.
func (s *Store) CreateSession(tenantID string, threadID int64, rec SessionRecord) error {
	if _, exists, err := s.Session(tenantID, threadID); err != nil {
		return err
	} else if exists {
		return ErrSessionExists
	}
	if err := s.SaveSession(tenantID, threadID, rec); err != nil {
		return err
	}
	return s.addToSessionsIndex(tenantID, threadID)
}

// SaveSession overwrites the session record for a thread.
func (s *Store) SaveSession(tenantID string, threadID int64, rec SessionRecord) error {
	k, err := s.sessionKey(tenantID, threadID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	return s.Put(k, string(data))
}

// DeleteSession removes the session record, its cursor, its flags, its
// failure counters, and its index entry.
func (s *Store) DeleteSession(tenantID string, threadID int64) error {
	k, err := s.sessionKey(tenantID, threadID)
	if err != nil {
		return err
	}
	if err := s.Delete(k); err != nil {
		return err
	}
	if cursorKey, err := s.cursorKey(tenantID, threadID); err == nil {
		_ = s.Delete(cursorKey)
	}
	for _, field := range []string{flagPendingPlan, flagReadyForReview} {
		if fk, err := s.flagKey(tenantID, threadID, field); err == nil {
			_ = s.Delete(fk)
		}
	}
	s.deleteFailureCounters(tenantID, threadID)
	return s.removeFromSessionsIndex(tenantID, threadID)
}

// --- cursor ---

func (s *Store) cursorKey(tenantID string, threadID int64) (Key, error) {
	k, err := NewKey(tenantID, CategoryCursor, "last_activity")
	if err != nil {
		return Key{}, err
	}
	return k.WithQualifier(threadQualifier(threadID))
}

// Cursor returns the id of the last successfully dispatched activity for a
// thread, or "" when nothing has been dispatched yet.
func (s *Store) Cursor(tenantID string, threadID int64) (string, error) {
	k, err := s.cursorKey(tenantID, threadID)
	if err != nil {
		return "", err
	}
	val, _, err := s.Get(k)
	return val, err
}

// SetCursor records the last dispatched activity id.
func (s *Store) SetCursor(tenantID string, threadID int64, activityID string) error {
	k, err := s.cursorKey(tenantID, threadID)
	if err != nil {
		return err
	}
	return s.Put(k, activityID)
}

// --- flags ---

const (
	flagPendingPlan    = "pending_plan"
	flagReadyForReview = "ready_for_review"
)

func (s *Store) flagKey(tenantID string, threadID int64, field string) (Key, error) {
	k, err := NewKey(tenantID, CategoryFlag, field)
	if err != nil {
		return Key{}, err
	}
	return k.WithQualifier(threadQualifier(threadID))
}

func (s *Store) getFlag(tenantID string, threadID int64, field string) (bool, error) {
	k, err := s.flagKey(tenantID, threadID, field)
	if err != nil {
		return false, err
	}
	val, ok, err := s.Get(k)
	if err != nil || !ok {
		return false, err
	}
	return val == "true", nil
}

func (s *Store) setFlag(tenantID string, threadID int64, field string, value bool) error {
	k, err := s.flagKey(tenantID, threadID, field)
	if err != nil {
		return err
	}
	return s.Put(k, strconv.FormatBool(value))
}

// PendingPlan reports whether the thread has a dispatched, unapproved plan.
func (s *Store) PendingPlan(tenantID string, threadID int64) (bool, error) {
	return s.getFlag(tenantID, threadID, flagPendingPlan)
}

// SetPendingPlan records or clears the pending-plan flag.
func (s *Store) SetPendingPlan(tenantID string, threadID int64, value bool) error {
	return s.setFlag(tenantID, threadID, flagPendingPlan, value)
}

// ReadyForReview reports whether the thread has unpublished reviewed work.
func (s *Store) ReadyForReview(tenantID string, threadID int64) (bool, error) {
	return s.getFlag(tenantID, threadID, flagReadyForReview)
}

// SetReadyForReview records or clears the ready-for-review flag.
func (s *Store) SetReadyForReview(tenantID string, threadID int64, value bool) error {
	return s.setFlag(tenantID, threadID, flagReadyForReview, value)
}

// --- sessions index ---

// SessionsIndex returns the thread ids with tracked sessions for a tenant,
// bounding the orchestrator's iteration without a full-table scan.
func (s *Store) SessionsIndex(tenantID string) ([]int64, error) {
	k, err := NewKey(tenantID, CategoryIndex, "sessions")
	if err != nil {
		return nil, err
	}
	raw, ok, err := s.Get(k)
	if err != nil || !ok {
		return nil, err
	}
	var threads []int64
	if err := json.Unmarshal([]byte(raw), &threads); err != nil {
		return nil, fmt.Errorf("store: decode sessions index for tenant %s: %w", tenantID, err)
	}
	return threads, nil
}

func (s *Store) writeSessionsIndex(tenantID string, threads []int64) error {
	k, err := NewKey(tenantID, CategoryIndex, "sessions")
	if err != nil {
		return err
	}
	data, err := json.Marshal(threads)
	if err != nil {
		return fmt.Errorf("store: encode sessions index: %w", err)
	}
	return s.Put(k, string(data))
}

func (s *Store) addToSessionsIndex(tenantID string, threadID int64) error {
	threads, err := s.SessionsIndex(tenantID)
	if err != nil {
		return err
	}
	for _, id := range threads {
		if id == threadID {
			return nil
		}
	}
	return s.writeSessionsIndex(tenantID, append(threads, threadID))
}

func (s *Store) removeFromSessionsIndex(tenantID string, threadID int64) error {
	threads, err := s.SessionsIndex(tenantID)
	if err != nil {
		return err
	}
	kept := threads[:0]
	for _, id := range threads {
		if id != threadID {
			kept = append(kept, id)
		}
	}
	return s.writeSessionsIndex(tenantID, kept)
}

// --- tenants registry ---

// tenantsIndexKey is the one key outside the tenant namespace: the registry
// that lets a memory-less run enumerate tenants at all.
const tenantsIndexKey = "tenants:index"

// Tenants returns all registered tenant ids.
func (s *Store) Tenants() ([]string, error) {
	var entry models.StateEntry
	err := s.db.First(&entry, "key = ?", tenantsIndexKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get tenants index: %w", err)
	}
	var tenants []string
	if err := json.Unmarshal([]byte(entry.Value), &tenants); err != nil {
		return nil, fmt.Errorf("store: decode tenants index: %w", err)
	}
	return tenants, nil
}

// RegisterTenant adds a tenant id to the registry. Registering an existing
// tenant is a no-op.
func (s *Store) RegisterTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("store: empty tenant id")
	}
	tenants, err := s.Tenants()
	if err != nil {
		return err
	}
	for _, id := range tenants {
		if id == tenantID {
			return nil
		}
	}
	data, err := json.Marshal(append(tenants, tenantID))
	if err != nil {
		return fmt.Errorf("store: encode tenants index: %w", err)
	}
	entry := models.StateEntry{Key: tenantsIndexKey, Value: string(data), UpdatedAt: time.Now()}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("store: put tenants index: %w", err)
	}
	return nil
}

// --- dispatch failure counters ---

func (s *Store) failureKey(tenantID string, threadID int64, activityID string) (Key, error) {
	k, err := NewKey(tenantID, CategoryFailure, activityID)
	if err != nil {
		return Key{}, err
	}
	return k.WithQualifier(threadQualifier(threadID))
}

// DispatchFailures returns how many consecutive dispatch attempts have
// failed for one activity.
func (s *Store) DispatchFailures(tenantID string, threadID int64, activityID string) (int, error) {
	k, err := s.failureKey(tenantID, threadID, activityID)
	if err != nil {
		return 0, err
	}
	val, ok, err := s.Get(k)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("store: decode failure counter: %w", err)
	}
	return n, nil
}

// IncrementDispatchFailure bumps the failure counter for one activity and
// returns the new count.
func (s *Store) IncrementDispatchFailure(tenantID string, threadID int64, activityID string) (int, error) {
	n, err := s.DispatchFailures(tenantID, threadID, activityID)
	if err != nil {
		return 0, err
	}
	n++
	k, err := s.failureKey(tenantID, threadID, activityID)
	if err != nil {
		return 0, err
	}
	return n, s.Put(k, strconv.Itoa(n))
}

// ClearDispatchFailures removes the failure counter for one activity.
func (s *Store) ClearDispatchFailures(tenantID string, threadID int64, activityID string) error {
	k, err := s.failureKey(tenantID, threadID, activityID)
	if err != nil {
		return err
	}
	return s.Delete(k)
}

// deleteFailureCounters drops all failure counters for a thread.
func (s *Store) deleteFailureCounters(tenantID string, threadID int64) {
	prefix := fmt.Sprintf("tenant:%s:%s:%s:", tenantID, CategoryFailure, threadQualifier(threadID))
	s.db.Delete(&models.StateEntry{}, "key LIKE ?", prefix+"%")
}
