package persistence

import (
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds the database connection and provides methods for database operations
type Database struct {
	DB *gorm.DB
}

// NewDatabase creates a new database connection with the given configuration.
// A nil gormLogger silences GORM.
func NewDatabase(cfg *config.DatabaseConfig, gormLogger logger.Interface) (*Database, error) {
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// AutoMigrate creates the sync tables from the GORM models.
// Production schemas come from the SQL migrations; this serves tests and local runs.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(models.AllModels()...)
}

// Repositories bundles the GORM implementations of every sync repository port
type Repositories struct {
	Entities     *GormSyncEntityRepository
	Links        *GormExternalLinkRepository
	Channels     *GormChannelRepository
	Jobs         *GormSyncJobRepository
	Logs         *GormSyncLogRepository
	BundleItems  *GormBundleItemRepository
	PendingLinks *GormPendingBundleLinkRepository
}

// NewRepositories creates all sync repositories on one connection
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Entities:     NewGormSyncEntityRepository(db),
		Links:        NewGormExternalLinkRepository(db),
		Channels:     NewGormChannelRepository(db),
		Jobs:         NewGormSyncJobRepository(db),
		Logs:         NewGormSyncLogRepository(db),
		BundleItems:  NewGormBundleItemRepository(db),
		PendingLinks: NewGormPendingBundleLinkRepository(db),
	}
}
