package antiinjection

import (
	"fmt"

	"github.com/mofoxlab/corebot/pkg/kv"
	"github.com/mofoxlab/corebot/pkg/logger"
	"github.com/mofoxlab/corebot/pkg/types"
)

// BanTracker persists BanRecords through the KV store and implements the
// violation accounting: the ban window starts the moment
// violation_num first crosses the threshold, not at the first violation.
type BanTracker struct {
	store kv.Store
	cfg   Config
}

// NewBanTracker wraps store with the violation-accounting rules.
func NewBanTracker(store kv.Store, cfg Config) *BanTracker {
	return &BanTracker{store: store, cfg: cfg}
}

func (t *BanTracker) load(platform, userID string) (types.BanRecord, error) {
	rec := types.BanRecord{Platform: platform, UserID: userID}
	_, err := t.store.Get(rec.Key(), &rec)
	if err != nil {
		return rec, fmt.Errorf("antiinjection: load ban record: %w", err)
	}
	return rec, nil
}

// IsBanned reports whether (platform, userID) is currently banned.
func (t *BanTracker) IsBanned(platform, userID string, now int64) (bool, error) {
	rec, err := t.load(platform, userID)
	if err != nil {
		return false, err
	}
	return rec.IsBanned(t.cfg.AutoBanViolationThreshold, t.cfg.AutoBanDuration, now), nil
}

// RecordViolation increments violation_num atomically (single-writer per
// user assumed at the caller) and, the first time the threshold is
// crossed, stamps created_at to start the ban window.
func (t *BanTracker) RecordViolation(platform, userID, reason string, now int64) (types.BanRecord, error) {
	rec, err := t.load(platform, userID)
	if err != nil {
		return rec, err
	}

	crossedBefore := rec.ViolationNum >= t.cfg.AutoBanViolationThreshold
	rec.ViolationNum++
	rec.Reason = reason

	if !crossedBefore && rec.ViolationNum >= t.cfg.AutoBanViolationThreshold {
		rec.CreatedAt = now
		logger.WarnCF("antiinjection", "ban window opened", map[string]interface{}{
			"platform": platform, "user_id": userID, "violation_num": rec.ViolationNum,
		})
	}

	if err := t.store.Set(rec.Key(), rec); err != nil {
		return rec, fmt.Errorf("antiinjection: save ban record: %w", err)
	}
	return rec, nil
}

// ResetOnExpiry zeroes violation_num once the ban window has elapsed,
// matching the invariant "ban expiration resets violation_num to 0".
func (t *BanTracker) ResetOnExpiry(platform, userID string, now int64) error {
	rec, err := t.load(platform, userID)
	if err != nil {
		return err
	}
	if rec.ViolationNum < t.cfg.AutoBanViolationThreshold {
		return nil
	}
	if now-rec.CreatedAt < t.cfg.AutoBanDuration {
		return nil
	}
	rec.ViolationNum = 0
	rec.CreatedAt = 0
	return t.store.Set(rec.Key(), rec)
}
