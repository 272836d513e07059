package models

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType names a rate-limited capability
type ResourceType string

const (
	ResourcePitchGeneration  ResourceType = "pitch_generation"
	ResourceWebhookIngestion ResourceType = "webhook_ingestion"
)

// RateLimit holds the ceilings for one resource type
type RateLimit struct {
	Hourly int `json:"hourly"`
	Daily  int `json:"daily"`
}

// RateLimitDecision is the outcome of a check-and-increment
type RateLimitDecision struct {
	Allowed         bool `json:"allowed"`
	RemainingHourly int  `json:"remaining_hourly"`
	RemainingDaily  int  `json:"remaining_daily"`
}

// RateLimitUsage tracks the counters of one (user, resource) pair
type RateLimitUsage struct {
	UserID          uuid.UUID    `json:"user_id" db:"user_id"`
	ResourceType    ResourceType `json:"resource_type" db:"resource_type"`
	CountHourly     int          `json:"count_hourly" db:"count_hourly"`
	HourWindowStart time.Time    `json:"last_reset_hour" db:"last_reset_hour"`
	CountDaily      int          `json:"count_daily" db:"count_daily"`
	DayWindowStart  time.Time    `json:"last_reset_date" db:"last_reset_date"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}

// HourWindow returns the start of the hour window containing t (UTC)
func HourWindow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayWindow returns the start of the day window containing t (UTC midnight)
func DayWindow(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Roll resets any window that now has moved past. It reports whether
// anything changed.
func (u *RateLimitUsage) Roll(now time.Time) bool {
	changed := false
	if hw := HourWindow(now); hw.After(u.HourWindowStart) {
		u.CountHourly = 0
		u.HourWindowStart = hw
		changed = true
	}
	if dw := DayWindow(now); dw.After(u.DayWindowStart) {
		u.CountDaily = 0
		u.DayWindowStart = dw
		changed = true
	}
	return changed
}

// Consume rolls the windows and takes one slot if both windows have room.
// A denied call leaves the counters untouched.
func (u *RateLimitUsage) Consume(now time.Time, limit RateLimit) RateLimitDecision {
	u.Roll(now)
	if u.CountHourly >= limit.Hourly || u.CountDaily >= limit.Daily {
		return u.decision(false, limit)
	}
	u.CountHourly++
	u.CountDaily++
	u.UpdatedAt = now
	return u.decision(true, limit)
}

func (u *RateLimitUsage) decision(allowed bool, limit RateLimit) RateLimitDecision {
	return RateLimitDecision{
		Allowed:         allowed,
		RemainingHourly: max(limit.Hourly-u.CountHourly, 0),
		RemainingDaily:  max(limit.Daily-u.CountDaily, 0),
	}
}
