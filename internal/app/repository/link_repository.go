package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shortloop/shortloop/internal/app/model"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that no record exists for the identifier.
	ErrLinkNotFound = errors.New("link not found")
	// ErrShortIDTaken signals a uniqueness violation on the identifier at
	// insert time. Callers recover by regenerating once.
	ErrShortIDTaken = errors.New("short id already taken")
)

// LinkRepository is the data access contract for short-link records.
type LinkRepository interface {
	// Create inserts a new record. Fails with ErrShortIDTaken when the
	// generated identifier collides with an existing one.
	Create(ctx context.Context, link *model.Link) error
	GetByShortID(ctx context.Context, shortID string) (*model.Link, error)
	GetByOriginalURL(ctx context.Context, originalURL string) (*model.Link, error)
	// GetByURLAndOptions looks up the record whose creation option-set
	// exactly matches the given tuple. This is the dedup key: the same URL
	// with different options maps to a different record.
	GetByURLAndOptions(ctx context.Context, originalURL string, analyticsEnabled bool, expiresAt *time.Time, passwordProtected bool) (*model.Link, error)
	// RecordClick applies the click as a single store-level update:
	// click_count is incremented in place (never read-modify-write) and,
	// when event is non-nil, the event row is inserted in the same
	// transaction. Concurrent clicks on one link never lose updates.
	RecordClick(ctx context.Context, shortID string, event *model.ClickEvent) error
	// ListEvents returns the full event history in insertion order.
	ListEvents(ctx context.Context, shortID string) ([]model.ClickEvent, error)
	// DeleteExpired removes records whose expiry instant is at or before
	// now, and their events. Returns the number of links removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// NextExpiry returns the earliest pending expiry instant, or nil when
	// no record carries one.
	NextExpiry(ctx context.Context) (*time.Time, error)
	// AllShortIDs lists every stored identifier (bloom filter warm-up).
	AllShortIDs(ctx context.Context) ([]string, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrShortIDTaken
		}
		return err
	}
	return nil
}

func (r *linkRepository) GetByShortID(ctx context.Context, shortID string) (*model.Link, error) {
	var link model.Link
	err := r.db.WithContext(ctx).Where("short_id = ?", shortID).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) GetByOriginalURL(ctx context.Context, originalURL string) (*model.Link, error) {
	var link model.Link
	err := r.db.WithContext(ctx).
		Where("original_url = ?", originalURL).
		Order("created_at ASC").
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) GetByURLAndOptions(ctx context.Context, originalURL string, analyticsEnabled bool, expiresAt *time.Time, passwordProtected bool) (*model.Link, error) {
	q := r.db.WithContext(ctx).
		Where("original_url = ?", originalURL).
		Where("analytics_enabled = ?", analyticsEnabled).
		Where("password_protected = ?", passwordProtected)
	if expiresAt == nil {
		q = q.Where("expires_at IS NULL")
	} else {
		q = q.Where("expires_at = ?", *expiresAt)
	}

	var link model.Link
	if err := q.Order("created_at ASC").First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) RecordClick(ctx context.Context, shortID string, event *model.ClickEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Link{}).
			Where("short_id = ?", shortID).
			UpdateColumn("click_count", gorm.Expr("click_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLinkNotFound
		}
		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *linkRepository) ListEvents(ctx context.Context, shortID string) ([]model.ClickEvent, error) {
	var events []model.ClickEvent
	err := r.db.WithContext(ctx).
		Where("link_short_id = ?", shortID).
		Order("seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *linkRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&model.Link{}).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Pluck("short_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("link_short_id IN ?", ids).
			Delete(&model.ClickEvent{}).Error; err != nil {
			return err
		}
		res := tx.Where("short_id IN ?", ids).Delete(&model.Link{})
		removed = res.RowsAffected
		return res.Error
	})
	return removed, err
}

func (r *linkRepository) NextExpiry(ctx context.Context) (*time.Time, error) {
	var link model.Link
	err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL").
		Order("expires_at ASC").
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return link.ExpiresAt, nil
}

func (r *linkRepository) AllShortIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Pluck("short_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
