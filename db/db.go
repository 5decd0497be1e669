package db

import (
	stdlog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (creating if needed) the sqlite database at path and
// migrates the schema.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}
	gormLog := logger.New(
		stdlog.New(logrus.StandardLogger().WriterLevel(logrus.DebugLevel), "", 0),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrate creates or updates the tables for every persisted model.
func AutoMigrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&StorageAdapter{},
		&AutomationRule{},
		&User{},
		&Configuration{},
	)
	return errors.Wrap(err, "migrating schema")
}
