package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"snaplink/internal/model"
)

// ErrDuplicateCode is returned when an insert loses the race on the
// short_code unique key. The caller retries with a fresh code.
var ErrDuplicateCode = errors.New("repository: short code already exists")

// LinkRepository handles database operations for short link mappings
type LinkRepository struct {
	db *gorm.DB
}

// NewLinkRepository opens the MySQL connection and migrates the schema
func NewLinkRepository(dsn string, maxIdleConns, maxOpenConns int) (*LinkRepository, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)

	if err := db.AutoMigrate(&model.ShortLink{}, &model.ClickEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &LinkRepository{db: db}, nil
}

// Create inserts a new mapping. The unique key on short_code is the final
// arbiter of uniqueness; a lost race surfaces as ErrDuplicateCode.
func (r *LinkRepository) Create(ctx context.Context, link *model.ShortLink) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to create short link: %w", err)
	}
	return nil
}

// GetByCode retrieves a mapping by short code, nil when absent
func (r *LinkRepository) GetByCode(ctx context.Context, shortCode string) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := r.db.WithContext(ctx).Where("short_code = ?", shortCode).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get short link: %w", err)
	}
	return &link, nil
}

// CodeExists reports whether a short code row exists, active or not.
// Soft-deleted rows still occupy their code; it is never reissued.
func (r *LinkRepository) CodeExists(ctx context.Context, shortCode string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.ShortLink{}).
		Where("short_code = ?", shortCode).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check short code: %w", err)
	}
	return count > 0, nil
}

// Deactivate flips a mapping to inactive, used when a reader detects expiry
func (r *LinkRepository) Deactivate(ctx context.Context, shortCode string) error {
	if err := r.db.WithContext(ctx).Model(&model.ShortLink{}).
		Where("short_code = ?", shortCode).
		UpdateColumn("active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate short link: %w", err)
	}
	return nil
}

// SoftDeleteByOwner deactivates a mapping only when it belongs to ownerID.
// Returns false when no matching active row was found.
func (r *LinkRepository) SoftDeleteByOwner(ctx context.Context, shortCode, ownerID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.ShortLink{}).
		Where("short_code = ? AND owner_id = ? AND active = ?", shortCode, ownerID, true).
		UpdateColumn("active", false)
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete short link: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateTitle stores the enrichment title fetched after creation
func (r *LinkRepository) UpdateTitle(ctx context.Context, shortCode, title string) error {
	if err := r.db.WithContext(ctx).Model(&model.ShortLink{}).
		Where("short_code = ?", shortCode).
		UpdateColumn("title", title).Error; err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}

// TouchAccess increments the click counter and stamps the last access time
func (r *LinkRepository) TouchAccess(ctx context.Context, shortCode string, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&model.ShortLink{}).
		Where("short_code = ?", shortCode).
		UpdateColumns(map[string]interface{}{
			"click_count":      gorm.Expr("click_count + ?", 1),
			"last_accessed_at": at,
		}).Error; err != nil {
		return fmt.Errorf("failed to touch short link: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's active mappings, newest first,
// with the total count for pagination.
func (r *LinkRepository) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) ([]model.ShortLink, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.ShortLink{}).
		Where("owner_id = ? AND active = ?", ownerID, true)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count short links: %w", err)
	}

	var links []model.ShortLink
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&links).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list short links: %w", err)
	}
	return links, total, nil
}

// AllCodes retrieves every short code, used to warm the Bloom filter
func (r *LinkRepository) AllCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.WithContext(ctx).Model(&model.ShortLink{}).
		Pluck("short_code", &codes).Error; err != nil {
		return nil, fmt.Errorf("failed to get all short codes: %w", err)
	}
	return codes, nil
}

// DB returns the underlying database handle
func (r *LinkRepository) DB() *gorm.DB {
	return r.db
}

// Close closes the database connection
func (r *LinkRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
