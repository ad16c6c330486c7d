package store

import (
	"errors"
	"fmt"

	"github.com/cybergis/compute-supervisor/internal/types"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore is the gorm-backed relational store. MySQL is used in
// production (config.mysql); sqlite backs local runs and tests.
type GormStore struct {
	db *gorm.DB
}

// NewMySQL opens a GormStore against a MySQL DSN and runs auto-migration.
func NewMySQL(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open mysql store: %w", err)
	}
	return newGormStore(db)
}

// NewSQLite opens a GormStore against a sqlite file (or ":memory:") and
// runs auto-migration. Used for local trials and tests.
func NewSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&types.Job{}, &types.Folder{}, &types.Cache{}, &types.Event{}, &types.Log{}, &types.Git{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) CreateJob(job *types.Job) error {
	return s.db.Create(job).Error
}

func (s *GormStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	if err := s.db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *GormStore) UpdateJob(job *types.Job) error {
	return s.db.Save(job).Error
}

func (s *GormStore) ListJobsByHPC(hpc string) ([]*types.Job, error) {
	var jobs []*types.Job
	if err := s.db.Where("hpc = ?", hpc).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *GormStore) CreateFolder(folder *types.Folder) error {
	return s.db.Create(folder).Error
}

func (s *GormStore) GetFolder(id string) (*types.Folder, error) {
	var folder types.Folder
	if err := s.db.First(&folder, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &folder, nil
}

func (s *GormStore) DeleteFolder(id string) error {
	return s.db.Delete(&types.Folder{}, "id = ?", id).Error
}

func (s *GormStore) GetCache(hpc, hpcPath string) (*types.Cache, error) {
	var cache types.Cache
	if err := s.db.First(&cache, "hpc = ? AND hpc_path = ?", hpc, hpcPath).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cache, nil
}

func (s *GormStore) UpsertCache(cache *types.Cache) error {
	return s.db.Save(cache).Error
}

func (s *GormStore) DeleteCache(hpc, hpcPath string) error {
	return s.db.Delete(&types.Cache{}, "hpc = ? AND hpc_path = ?", hpc, hpcPath).Error
}

func (s *GormStore) CreateEvent(event *types.Event) error {
	return s.db.Create(event).Error
}

func (s *GormStore) ListEventsByJob(jobID string) ([]*types.Event, error) {
	var events []*types.Event
	if err := s.db.Where("job_id = ?", jobID).Order("created_at asc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *GormStore) CreateLog(log *types.Log) error {
	return s.db.Create(log).Error
}

func (s *GormStore) ListLogsByJob(jobID string) ([]*types.Log, error) {
	var logs []*types.Log
	if err := s.db.Where("job_id = ?", jobID).Order("created_at asc").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *GormStore) GetGit(id string) (*types.Git, error) {
	var git types.Git
	if err := s.db.First(&git, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &git, nil
}

func (s *GormStore) UpdateGit(git *types.Git) error {
	return s.db.Save(git).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
