package model

import "time"

// WeeklyScheduleEntry is a provider's recurring working window for one weekday.
type WeeklyScheduleEntry struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	DayOfWeek  int       `json:"day_of_week"` // 0-6 (Sunday-Saturday)
	StartTime  string    `json:"start_time"`  // "09:00"
	EndTime    string    `json:"end_time"`    // "17:00"
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BlockedSlot is a one-off range the provider is unavailable for.
// Empty StartTime or EndTime means the whole day is blocked.
type BlockedSlot struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	BlockedDate time.Time `json:"blocked_date"`
	StartTime   string    `json:"start_time,omitempty"`
	EndTime     string    `json:"end_time,omitempty"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsWholeDay reports whether the block covers the entire date.
func (b *BlockedSlot) IsWholeDay() bool {
	return b.StartTime == "" || b.EndTime == ""
}
