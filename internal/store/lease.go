package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultLeaseTTL is how long a polling lease survives a crashed run before
// another run may reclaim the thread. Generous on purpose: a lease expiring
// under a live run is worse than a thread being skipped for a few cycles.
const DefaultLeaseTTL = 3 * time.Minute

// leaseRecord is the stored form of a polling lease.
type leaseRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Store) leaseKey(tenantID string, threadID int64) (Key, error) {
	k, err := NewKey(tenantID, CategoryLease, "poll")
	if err != nil {
		return Key{}, err
	}
	return k.WithQualifier(threadQualifier(threadID))
}

// AcquireLease attempts to take the polling lease for a thread. Returns
// false when a live lease is held by someone else. This is plain get/put,
// not a real lock: two runs racing within the read-write window can both
// acquire, so the lease narrows the overlap window rather than closing it.
func (s *Store) AcquireLease(tenantID string, threadID int64, owner string, ttl time.Duration, now time.Time) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	k, err := s.leaseKey(tenantID, threadID)
	if err != nil {
		return false, err
	}
	raw, ok, err := s.Get(k)
	if err != nil {
		return false, err
	}
	if ok {
		var rec leaseRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil &&
			rec.Owner != owner && now.Before(rec.ExpiresAt) {
			return false, nil
		}
		// Expired, malformed, or our own: reclaim.
	}
	data, err := json.Marshal(leaseRecord{Owner: owner, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return false, fmt.Errorf("store: encode lease: %w", err)
	}
	if err := s.Put(k, string(data)); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLease drops the polling lease if still held by owner.
func (s *Store) ReleaseLease(tenantID string, threadID int64, owner string) error {
	k, err := s.leaseKey(tenantID, threadID)
	if err != nil {
		return err
	}
	raw, ok, err := s.Get(k)
	if err != nil || !ok {
		return err
	}
	var rec leaseRecord
	if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.Owner != owner {
		return nil
	}
	return s.Delete(k)
}
