package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vipul43/mailsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// RecordEmails adds n received emails to the account's bucket for the UTC day of at
func (r *ActivityRepository) RecordEmails(ctx context.Context, accountID string, n int, at time.Time) error {
	if n <= 0 {
		return nil
	}
	row := models.AccountActivity{
		AccountID:      accountID,
		Day:            models.ActivityDay(at),
		EmailsReceived: n,
		UpdatedAt:      at,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"emails_received": gorm.Expr("account_activity.emails_received + ?", n),
			"updated_at":      at,
		}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to record activity: %w", result.Error)
	}
	return nil
}

// Stats sums the day buckets into the scheduler's 24h and 7d windows
func (r *ActivityRepository) Stats(ctx context.Context, accountID string, now time.Time) (models.ActivityStats, error) {
	from24h, from7d := models.ActivityWindows(now)

	var out struct {
		Emails24h int `gorm:"column:emails_24h"`
		Emails7d  int `gorm:"column:emails_7d"`
	}
	result := r.db.WithContext(ctx).Model(&models.AccountActivity{}).
		Select(
			"COALESCE(SUM(CASE WHEN day >= ? THEN emails_received ELSE 0 END), 0) AS emails_24h, "+
				"COALESCE(SUM(emails_received), 0) AS emails_7d", from24h).
		Where("account_id = ? AND day >= ?", accountID, from7d).
		Scan(&out)
	if result.Error != nil {
		return models.ActivityStats{}, fmt.Errorf("failed to load activity: %w", result.Error)
	}
	return models.ActivityStats{Emails24h: out.Emails24h, Emails7d: out.Emails7d}, nil
}

// DeleteBefore prunes buckets older than cutoff
func (r *ActivityRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("day < ?", models.ActivityDay(cutoff)).
		Delete(&models.AccountActivity{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune activity: %w", result.Error)
	}
	return result.RowsAffected, nil
}
