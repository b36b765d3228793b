package database

import (
	"fmt"

	"gorm.io/gorm"

	"fulfillment/internal/model"
	"fulfillment/pkg/log"
)

// Models lists every table the pipeline owns, in dependency order
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.StockLog{},
		&model.PendingJob{},
	}
}

// AutoMigrate auto migrate database table schema
func AutoMigrate(db *gorm.DB) error {
	log.Info("Starting database migration...")

	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
		log.Infof("Migrated model: %T", m)
	}

	return CreateIndexes(db)
}

// CreateIndexes creates composite indexes gorm tags cannot express
func CreateIndexes(db *gorm.DB) error {
	indexes := []struct {
		table string
		name  string
		cols  string
	}{
		{"orders", "idx_orders_user_status", "user_id, status, created_at"},
		{"pending_jobs", "idx_pending_jobs_sweep", "published_at, attempts, id"},
	}

	for _, idx := range indexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		sql := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.cols)
		if err := db.Exec(sql).Error; err != nil {
			log.Warnf("Failed to create index %s on table %s: %v", idx.name, idx.table, err)
			continue
		}
		log.Infof("Created index: %s on table %s", idx.name, idx.table)
	}

	log.Info("Database migration completed successfully")
	return nil
}
