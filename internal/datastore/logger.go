package datastore

import (
	"log"
	"os"
	"time"

	"gorm.io/gorm/logger"
)

// createGormLogger returns a gorm logger tuned for batch workloads: quiet in
// normal operation, verbose when debug is on.
func createGormLogger(debug bool) logger.Interface {
	level := logger.Error
	if debug {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
