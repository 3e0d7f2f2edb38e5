package types

// BanRecord tracks anti-injection violations for one (platform, user_id)
// pair. A user is banned iff ViolationNum has crossed the configured
// threshold and the ban window (measured from CreatedAt) hasn't elapsed.
type BanRecord struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`

	ViolationNum int64  `json:"violation_num"`
	Reason       string `json:"reason,omitempty"`

	// CreatedAt is set the moment violation_num first crosses the ban
	// threshold, not at the first violation; the ban window starts there.
	CreatedAt int64 `json:"created_at"`
}

// IsBanned reports whether the record currently represents an active ban,
// given the configured threshold/duration and the current time.
func (b *BanRecord) IsBanned(threshold int64, banDuration int64, now int64) bool {
	if b.ViolationNum < threshold {
		return false
	}
	return now-b.CreatedAt < banDuration
}

// Key returns the KV store key this ban record is persisted under.
func (b *BanRecord) Key() string {
	return "ban:" + b.Platform + ":" + b.UserID
}
