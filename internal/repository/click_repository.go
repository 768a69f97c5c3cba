package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"snaplink/internal/model"
)

// ClickRepository handles the append-only click event log. Event IDs come
// from a snowflake node so the hot append path never contends on an
// auto-increment row.
type ClickRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

// NewClickRepository creates a click repository sharing the link database.
// datacenterID and workerID each use 5 bits of the snowflake node identity.
func NewClickRepository(db *gorm.DB, datacenterID, workerID int64) (*ClickRepository, error) {
	node, err := snowflake.NewNode((datacenterID << 5) | workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &ClickRepository{db: db, node: node}, nil
}

// Append inserts a click event, assigning it a snowflake ID
func (r *ClickRepository) Append(ctx context.Context, event *model.ClickEvent) error {
	if event.ID == 0 {
		event.ID = r.node.Generate().Int64()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to append click event: %w", err)
	}
	return nil
}

// DailyCounts groups clicks for a short code by calendar day since the cutoff
func (r *ClickRepository) DailyCounts(ctx context.Context, shortCode string, since time.Time) ([]model.DailyCount, error) {
	var counts []model.DailyCount
	if err := r.db.WithContext(ctx).Model(&model.ClickEvent{}).
		Select("DATE(clicked_at) AS date, COUNT(*) AS count").
		Where("short_code = ? AND clicked_at >= ?", shortCode, since).
		Group("DATE(clicked_at)").
		Order("date ASC").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to get daily counts: %w", err)
	}
	return counts, nil
}

// TopReferrers returns the n most frequent non-empty referrers for a short code
func (r *ClickRepository) TopReferrers(ctx context.Context, shortCode string, n int) ([]model.ReferrerCount, error) {
	var referrers []model.ReferrerCount
	if err := r.db.WithContext(ctx).Model(&model.ClickEvent{}).
		Select("referrer, COUNT(*) AS count").
		Where("short_code = ? AND referrer <> ''", shortCode).
		Group("referrer").
		Order("count DESC").
		Limit(n).
		Scan(&referrers).Error; err != nil {
		return nil, fmt.Errorf("failed to get top referrers: %w", err)
	}
	return referrers, nil
}
