package models

import "time"

// AccountActivity counts emails received by an account on one UTC day.
type AccountActivity struct {
	AccountID      string    `gorm:"column:account_id;primaryKey"`
	Day            time.Time `gorm:"column:day;primaryKey;type:date"`
	EmailsReceived int       `gorm:"column:emails_received"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (AccountActivity) TableName() string {
	return "account_activity"
}

// ActivityStats is the scheduler's view of how busy an account is.
type ActivityStats struct {
	Emails24h  int
	Emails7d   int
	LastReadAt *time.Time
}

// ActivityDay truncates t to its UTC calendar day, the bucket key for AccountActivity.
func ActivityDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ActivityWindows returns the first bucket counted in the 24h and 7d windows.
// Buckets are whole days, so "24h" covers today and yesterday and "7d" the last seven days.
func ActivityWindows(now time.Time) (from24h, from7d time.Time) {
	today := ActivityDay(now)
	return today.AddDate(0, 0, -1), today.AddDate(0, 0, -6)
}
