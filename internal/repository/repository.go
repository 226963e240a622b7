package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/stocktake/internal/database"
	"example.com/backstage/services/stocktake/internal/models"
)

// Repository provides data access methods for the stocktake domain
type Repository interface {
	// WithTransaction runs fn against a transactional repository; either every
	// write inside fn commits or none does.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error

	// Counting operations
	CreateCounting(ctx context.Context, counting *models.Counting) error
	SaveCounting(ctx context.Context, counting *models.Counting) error
	FindCountingByID(ctx context.Context, id uint) (*models.Counting, error)
	// FindCountingForUpdate locks the counting row for the duration of the
	// surrounding transaction, serializing all mutation per counting.
	FindCountingForUpdate(ctx context.Context, id uint) (*models.Counting, error)
	ListCountings(ctx context.Context, companyID uint) ([]*models.Counting, error)

	// Item operations
	SaveItem(ctx context.Context, item *models.CountingItem) error
	FindItemByID(ctx context.Context, id uint) (*models.CountingItem, error)
	CountPendingItems(ctx context.Context, countingID uint) (int64, error)

	// Assignment operations
	SaveAssignment(ctx context.Context, assignment *models.CountAssignment) error
	ListOverdueAssignments(ctx context.Context, now time.Time) ([]*models.CountAssignment, error)

	// Event operations
	LatestEvent(ctx context.Context, countingID uint) (*models.CountingEvent, error)
	SaveEvent(ctx context.Context, event *models.CountingEvent) error
	ListEvents(ctx context.Context, countingID uint) ([]models.CountingEvent, error)
	ListUnprocessedEvents(ctx context.Context, limit int) ([]models.CountingEvent, error)
	MarkEventProcessed(ctx context.Context, eventID uint) error

	// Stock level operations (snapshot source)
	ListStockLevels(ctx context.Context, companyID uint, query StockLevelQuery) ([]models.StockLevel, error)
}

// StockLevelQuery filters the stock balance table for snapshot resolution
type StockLevelQuery struct {
	LocationIDs []string
	Categories  []string
	ProductIDs  []string
}

// repo implements Repository backed by GORM
type repo struct {
	db database.DB
}

// dbWrapper adapts an in-flight gorm transaction to the database.DB interface
type dbWrapper struct {
	db *gorm.DB
}

func (w *dbWrapper) DB() (*gorm.DB, error) { return w.db, nil }
func (w *dbWrapper) Close() error          { return nil }

// NewRepository creates a new Repository instance
func NewRepository(db database.DB) Repository {
	return &repo{db: db}
}

// WithTransaction executes the given function within a database transaction
func (r *repo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &repo{db: &dbWrapper{db: tx}}
		return fn(ctx, txRepo)
	})
}

// Counting operations implementation

func (r *repo) CreateCounting(ctx context.Context, counting *models.Counting) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Create(counting).Error
}

func (r *repo) SaveCounting(ctx context.Context, counting *models.Counting) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	// Save only the aggregate row; items and assignments are written
	// individually by the operations that change them.
	return gormDB.WithContext(ctx).Omit("Items", "Assignments").Save(counting).Error
}

func (r *repo) FindCountingByID(ctx context.Context, id uint) (*models.Counting, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var counting models.Counting
	if err := gormDB.WithContext(ctx).
		Preload("Items").
		Preload("Assignments").
		First(&counting, id).Error; err != nil {
		return nil, err
	}
	return &counting, nil
}

func (r *repo) FindCountingForUpdate(ctx context.Context, id uint) (*models.Counting, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var counting models.Counting
	if err := gormDB.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&counting, id).Error; err != nil {
		return nil, err
	}

	if err := gormDB.WithContext(ctx).
		Where("counting_id = ?", id).
		Order("id ASC").
		Find(&counting.Items).Error; err != nil {
		return nil, err
	}
	if err := gormDB.WithContext(ctx).
		Where("counting_id = ?", id).
		Order("phase_number ASC").
		Find(&counting.Assignments).Error; err != nil {
		return nil, err
	}
	return &counting, nil
}

func (r *repo) ListCountings(ctx context.Context, companyID uint) ([]*models.Counting, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var countings []*models.Counting
	if err := gormDB.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("id DESC").
		Find(&countings).Error; err != nil {
		return nil, err
	}
	return countings, nil
}

// Item operations implementation

func (r *repo) SaveItem(ctx context.Context, item *models.CountingItem) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Save(item).Error
}

func (r *repo) FindItemByID(ctx context.Context, id uint) (*models.CountingItem, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var item models.CountingItem
	if err := gormDB.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) CountPendingItems(ctx context.Context, countingID uint) (int64, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return 0, err
	}

	var count int64
	if err := gormDB.WithContext(ctx).
		Model(&models.CountingItem{}).
		Where("counting_id = ? AND resolution_method = ?", countingID, models.ResolutionPending).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Assignment operations implementation

func (r *repo) SaveAssignment(ctx context.Context, assignment *models.CountAssignment) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Save(assignment).Error
}

func (r *repo) ListOverdueAssignments(ctx context.Context, now time.Time) ([]*models.CountAssignment, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var assignments []*models.CountAssignment
	if err := gormDB.WithContext(ctx).
		Where("deadline IS NOT NULL AND deadline < ? AND status <> ?", now, models.AssignmentCompleted).
		Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

// Event operations implementation

func (r *repo) LatestEvent(ctx context.Context, countingID uint) (*models.CountingEvent, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var event models.CountingEvent
	err = gormDB.WithContext(ctx).
		Where("counting_id = ?", countingID).
		Order("id DESC").
		First(&event).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repo) SaveEvent(ctx context.Context, event *models.CountingEvent) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).Create(event).Error
}

func (r *repo) ListEvents(ctx context.Context, countingID uint) ([]models.CountingEvent, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var events []models.CountingEvent
	if err := gormDB.WithContext(ctx).
		Where("counting_id = ?", countingID).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListUnprocessedEvents(ctx context.Context, limit int) ([]models.CountingEvent, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var events []models.CountingEvent
	if err := gormDB.WithContext(ctx).
		Where("processed = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, eventID uint) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return gormDB.WithContext(ctx).
		Model(&models.CountingEvent{}).
		Where("id = ?", eventID).
		Update("processed", true).Error
}

// Stock level operations implementation

func (r *repo) ListStockLevels(ctx context.Context, companyID uint, query StockLevelQuery) ([]models.StockLevel, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	q := gormDB.WithContext(ctx).Where("company_id = ?", companyID)
	if len(query.LocationIDs) > 0 {
		q = q.Where("location_id IN ?", query.LocationIDs)
	}
	if len(query.Categories) > 0 {
		q = q.Where("category IN ?", query.Categories)
	}
	if len(query.ProductIDs) > 0 {
		q = q.Where("product_id IN ?", query.ProductIDs)
	}

	var levels []models.StockLevel
	if err := q.Order("product_id ASC, location_id ASC").Find(&levels).Error; err != nil {
		return nil, err
	}
	return levels, nil
}
