package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"detox/pkg/models"
	"detox/pkg/storage"
)

// RunStore persists run history in PostgreSQL.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore connects to connString and migrates the run tables.
func NewRunStore(connString string) (*RunStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// one run writes once; a small pool is plenty
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewRunStoreWithDB(db)
}

// NewRunStoreWithDB wraps an open connection and migrates the run tables.
func NewRunStoreWithDB(db *gorm.DB) (*RunStore, error) {
	if err := db.AutoMigrate(&models.RunRecord{}, &models.JobRecord{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *RunStore) Name() string { return "postgres" }

// Record saves the run and its job results in one transaction.
func (s *RunStore) Record(ctx context.Context, run *models.Run) error {
	rec := models.NewRunRecord(run)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRecent returns the latest runs, newest first, with their jobs.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.RunRecord
	result := s.db.WithContext(ctx).
		Preload("Jobs", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Order("started_at desc").
		Limit(limit).
		Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return runs, nil
}

// Last returns the most recent run.
func (s *RunStore) Last(ctx context.Context) (*models.RunRecord, error) {
	var run models.RunRecord
	result := s.db.WithContext(ctx).
		Preload("Jobs", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Order("started_at desc").
		First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}
